package orchestrator

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ExecRestarter re-executes the current binary with the same arguments
// and environment.
type ExecRestarter struct{}

func (ExecRestarter) Restart() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
