//go:build !unix

package processes

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func interruptGroup(cmd *exec.Cmd) error {
	return cmd.Process.Signal(os.Interrupt)
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}
