// Package pty wraps a pseudo-terminal-backed process with the
// escalating-signal lifecycle used by both interactive agent sessions
// and sandbox-executed shell commands.
package pty

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Signal is a subset of syscall.Signal exposed to callers that don't
// want a direct dependency on the syscall package.
type Signal int

const (
	SIGINT  Signal = Signal(syscall.SIGINT)
	SIGTERM Signal = Signal(syscall.SIGTERM)
	SIGKILL Signal = Signal(syscall.SIGKILL)
	SIGSTOP Signal = Signal(syscall.SIGSTOP)
	SIGCONT Signal = Signal(syscall.SIGCONT)
)

// PTY is one pseudo-terminal-backed process.
type PTY struct {
	ID   string
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool
}

// New starts shell under a pseudo-terminal of the given size.
func New(shell string, cols, rows uint16) (*PTY, error) {
	return NewCommand(exec.Command(shell), cols, rows)
}

// NewCommand starts an arbitrary *exec.Cmd under a pseudo-terminal,
// letting callers set Dir/Env/Args before allocating the terminal — the
// primitive the sandbox executor's PTY spawn path (spec §4.F step 9)
// builds on.
func NewCommand(cmd *exec.Cmd, cols, rows uint16) (*PTY, error) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
	if err != nil {
		return nil, err
	}

	return &PTY{
		ID:   uuid.New().String(),
		file: ptmx,
		cmd:  cmd,
	}, nil
}

func (p *PTY) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Read(buf)
}

func (p *PTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	file := p.file
	p.mu.Unlock()

	return file.Write(data)
}

// Resize changes the PTY window size.
func (p *PTY) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	return pty.Setsize(p.file, &pty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Signal sends sig to the underlying process.
func (p *PTY) Signal(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	if p.cmd.Process == nil {
		return os.ErrProcessDone
	}

	return p.cmd.Process.Signal(syscall.Signal(sig))
}

// Close kills the process if still running and closes the PTY file.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}

	return p.file.Close()
}

// Done returns a channel that closes once the process has exited.
func (p *PTY) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		if p.cmd != nil {
			p.cmd.Wait()
		}
		close(done)
	}()
	return done
}

// ExitCode returns the process's exit code once Done has fired, or -1
// if it exited via signal or hasn't exited yet.
func (p *PTY) ExitCode() int {
	if p.cmd == nil || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}
