//go:build unix

package descriptors

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

const (
	helperEnv     = "DESCRIPTORS_TEST_HELPER"
	helperKeepEnv = "DESCRIPTORS_TEST_KEEP"
	helperOwnEnv  = "DESCRIPTORS_TEST_OWN"
)

// report is what the helper process writes to descriptor 3 after sanitizing itself.
type report struct {
	ProbeClosed bool    `json:"probeClosed"`
	OwnOpen     bool    `json:"ownOpen"`
	StdNull     [3]bool `json:"stdNull"`
	Err         string  `json:"err"`
}

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "sanitize" {
		sanitizeHelper()
		return
	}

	goleak.VerifyTestMain(m)
}

func sanitizeHelper() {
	var keep []int
	for _, s := range strings.Split(os.Getenv(helperKeepEnv), ",") {
		fd, err := strconv.Atoi(s)
		if err != nil {
			os.Exit(3)
		}
		keep = append(keep, fd)
	}

	// opened by this process image, hence close-on-exec.
	own, err := os.Open(os.Getenv(helperOwnEnv))
	if err != nil {
		os.Exit(4)
	}

	r := report{}
	if err := (Sanitizer{}).Sanitize(keep); err != nil {
		r.Err = err.Error()
	}

	r.ProbeClosed = !isOpen(4)
	r.OwnOpen = isOpen(int(own.Fd()))
	for fd := 0; fd <= 2; fd++ {
		r.StdNull[fd] = isNullDevice(fd)
	}

	out := os.NewFile(3, "report")
	if err := json.NewEncoder(out).Encode(r); err != nil {
		os.Exit(5)
	}
	os.Exit(0)
}

func isNullDevice(fd int) bool {
	var st, null unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false
	}
	if err := unix.Stat(os.DevNull, &null); err != nil {
		return false
	}

	return st.Mode&unix.S_IFMT == unix.S_IFCHR && st.Rdev == null.Rdev
}

func runSanitizeHelper(t *testing.T, keep string) (report, string) {
	t.Helper()
	dir := t.TempDir()

	reportFile, err := os.Create(filepath.Join(dir, "report"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reportFile.Close() })

	probeFile, err := os.Create(filepath.Join(dir, "probe"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = probeFile.Close() })

	stdin, err := os.Create(filepath.Join(dir, "stdin"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stdin.Close() })

	var stdout bytes.Buffer
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(),
		helperEnv+"=sanitize",
		helperKeepEnv+"="+keep,
		helperOwnEnv+"="+stdin.Name(),
	)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	cmd.ExtraFiles = []*os.File{reportFile, probeFile} // child descriptors 3 and 4
	require.NoError(t, cmd.Run(), stdout.String())

	b, err := os.ReadFile(reportFile.Name())
	require.NoError(t, err)

	r := report{}
	require.NoError(t, json.Unmarshal(b, &r), string(b))

	return r, stdout.String()
}

func TestSanitizeAllowList(t *testing.T) {
	r, _ := runSanitizeHelper(t, "3")

	assert.Empty(t, r.Err)
	assert.True(t, r.ProbeClosed, "unlisted inherited descriptor must be closed")
	assert.True(t, r.OwnOpen, "close-on-exec descriptors are not touched")
	assert.Equal(t, [3]bool{true, true, true}, r.StdNull)
}

func TestSanitizeKeepsListedStandardStream(t *testing.T) {
	r, _ := runSanitizeHelper(t, "1,3")

	assert.Empty(t, r.Err)
	assert.True(t, r.ProbeClosed)
	assert.Equal(t, [3]bool{true, false, true}, r.StdNull)
}

func TestTable(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(); _ = w.Close() })

	wfd := int(w.Fd())

	files, err := Table([]int{wfd, wfd})
	require.NoError(t, err)
	require.Len(t, files, wfd+1)
	assert.Equal(t, uintptr(wfd), files[wfd])
	for fd := 3; fd < wfd; fd++ {
		assert.Equal(t, closed, files[fd], "gap %d must be closed in the child", fd)
	}
	for fd := 0; fd <= 2; fd++ {
		assert.Contains(t, []uintptr{uintptr(fd), closed}, files[fd])
	}
}

func TestTableStandardStreamsOnly(t *testing.T) {
	files, err := Table(nil)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = Table([]int{0, 2})
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestTableErrors(t *testing.T) {
	_, err := Table([]int{-1})
	require.Error(t, err)

	_, err = Table([]int{scanCeiling - 1})
	require.ErrorIs(t, err, unix.EBADF)
}
