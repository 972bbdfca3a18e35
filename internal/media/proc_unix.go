//go:build unix

package media

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureKill runs the engine in its own process group and kills the whole
// group on cancellation, so helper processes spawned by ffmpeg die with it.
func configureKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
