//go:build windows

package validator

import (
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {}

func interruptProcess(cmd *exec.Cmd) {
	killProcess(cmd)
}

func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
