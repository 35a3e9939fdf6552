//go:build unix

package session

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"
)

const helperEnv = "SESSION_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "detach" {
		detachHelper()
		return
	}

	goleak.VerifyTestMain(m)
}

func detachHelper() {
	before := IsLeader()
	d := Detacher{}
	first := d.Detach()
	second := d.Detach()
	sid, _ := unix.Getsid(0)
	fmt.Printf("%t %v %v %t\n", before, first, second, sid == os.Getpid())
	os.Exit(0)
}

func TestDetach(t *testing.T) {
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"=detach")
	out, err := cmd.Output()
	require.NoError(t, err)

	// not a leader before, two successful calls, leader after.
	assert.Equal(t, "false <nil> <nil> true\n", string(out))
}

func TestDetachAlreadyLeader(t *testing.T) {
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"=detach")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	out, err := cmd.Output()
	require.NoError(t, err)

	assert.Equal(t, "true <nil> <nil> true\n", string(out))
}
