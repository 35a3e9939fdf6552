// Package daemonize turns a foreground process into a singleton background process and runs its main action until
// it is told to stop.
//
// Lifecycle (strict order, a fatal failure stops the remaining steps):
//  1. Fork: the process re-executes itself as a child and the parent exits with code 0.
//  2. Detach: the child becomes the leader of a new session, losing its controlling terminal.
//  3. Sanitize: inherited descriptors that are not in Config.KeepDescriptors are closed and the standard streams are
//     attached to the null device.
//  4. The file mode creation mask is set (WithUmask) and the working directory becomes "/" (WithWorkDir).
//  5. The lock directory is created if absent.
//  6. The lock file is acquired. If another live instance holds it, Start fails with ErrAlreadyRunning.
//  7. The shutdown handler is installed.
//  8. Config.Action is called, exactly once.
//
// Example usage:
//
//	func main() {
//		logFile, _ := os.OpenFile("/var/log/app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
//		logger := slog.New(slog.NewTextHandler(logFile, nil))
//
//		daemonize.Run(
//			context.Background(),
//			daemonize.Config{
//				Name: "app",
//				// listening socket inherited from the service manager
//				KeepDescriptors: []int{3},
//				Action: func(ctx context.Context) error {
//					ln, err := net.FileListener(os.NewFile(3, "listener"))
//					if err != nil {
//						return err
//					}
//					return serve(ctx, ln)
//				},
//			},
//			daemonize.WithLogger(logger),
//			daemonize.WithShutdownGraceDuration(5*time.Second),
//		)
//	}
//
// Fork:
// The Go runtime cannot fork without exec, so the child is the same executable started again with the same
// arguments and a marker variable in its environment (WithChildMarker). Everything the program does before calling
// Run therefore happens twice, once in the parent and once in the child, and must be side-effect free. Files the
// child opens before Run, like the log file above, are its own and survive sanitization.
//
// Shutdown:
// The shutdown signal (default SIGTERM), an error pushed into FatalErrorsChannel, the parent context being done or
// the action returning all converge on the same cleanup, which runs once: log "stopping daemon", run the
// OnShutDown callbacks, remove the lock file, exit. The exit code is 0 for a signal or a nil action result and 1
// otherwise.
//
// Singleton:
// The advisory lock decides whether an instance is running, never the pid written in the file. A holder that
// crashes loses its lock with its descriptors, so a stale pid file never blocks a restart.
package daemonize
