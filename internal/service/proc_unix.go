//go:build unix

package service

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the command in its own group, so children it spawns
// get the same signals.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptGroup(p *os.Process) error {
	return groupSignal(p, syscall.SIGINT)
}

func killGroup(p *os.Process) error {
	return groupSignal(p, syscall.SIGKILL)
}

func groupSignal(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == syscall.ESRCH {
		return os.ErrProcessDone
	}
	return err
}
