//go:build windows

package relay

import (
	"context"
	"os/exec"
	"time"
)

type ffmpegProcess struct {
	cmd  *exec.Cmd
	done chan error
}

func launchFFmpeg(ctx context.Context, binary string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
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

// Stop kills the process outright; there is no group signalling on
// Windows.
func (p *ffmpegProcess) Stop(grace time.Duration) {
	p.cmd.Process.Kill()
	select {
	case <-p.done:
	case <-time.After(grace):
	}
}
