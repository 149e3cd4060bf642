//go:build !linux

package orchestrator

import "errors"

type ExecRestarter struct{}

func (ExecRestarter) Restart() error {
	return errors.New("restart is only supported on linux")
}
