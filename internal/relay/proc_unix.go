//go:build !windows

package relay

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// ffmpegProcess wraps the relay subprocess. The process runs in its own
// group so that termination reaches any children ffmpeg forks.
type ffmpegProcess struct {
	cmd  *exec.Cmd
	done chan error
}

func launchFFmpeg(ctx context.Context, binary string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &ffmpegProcess{cmd: cmd, done: make(chan error, 1)}
	go func() {
		p.done <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *ffmpegProcess) Done() <-chan error { return p.done }

// Stop signals the whole process group with SIGTERM and escalates to
// SIGKILL if the group is still alive after the grace period.
func (p *ffmpegProcess) Stop(grace time.Duration) {
	pid := p.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid <= 0 {
		p.cmd.Process.Kill()
		return
	}
	// Negative PGID targets the full group.
	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
}
