package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Conduit is the bidirectional byte channel to a spawned process, plus the
// resize control. The PTY strategy resizes the terminal; the pipe strategy
// treats resize as a no-op.
type Conduit interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}

// Strategy starts a prepared command and returns its I/O conduit.
type Strategy interface {
	Name() string
	Start(cmd *exec.Cmd, cols, rows int) (Conduit, error)
}

// Probe selects the spawn strategy for this host: PTY when a pseudo-terminal
// can be allocated, pipes otherwise.
func Probe() Strategy {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return PipeStrategy{}
	}
	ptmx.Close()
	tty.Close()
	return PTYStrategy{}
}

// PTYStrategy spawns the process attached to a pseudo-terminal.
type PTYStrategy struct{}

func (PTYStrategy) Name() string { return "pty" }

func (PTYStrategy) Start(cmd *exec.Cmd, cols, rows int) (Conduit, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyConduit{ptmx: ptmx}, nil
}

type ptyConduit struct {
	ptmx *os.File
}

func (c *ptyConduit) Read(p []byte) (int, error)  { return c.ptmx.Read(p) }
func (c *ptyConduit) Write(p []byte) (int, error) { return c.ptmx.Write(p) }
func (c *ptyConduit) Close() error                { return c.ptmx.Close() }

func (c *ptyConduit) Resize(cols, rows int) error {
	return pty.Setsize(c.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// PipeStrategy spawns the process with plain stdin/stdout pipes, merging
// stderr into stdout to keep a single ordered output stream.
type PipeStrategy struct{}

func (PipeStrategy) Name() string { return "pipe" }

func (PipeStrategy) Start(cmd *exec.Cmd, cols, rows int) (Conduit, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return &pipeConduit{stdin: stdin, stdout: stdout}, nil
}

type pipeConduit struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

func (c *pipeConduit) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *pipeConduit) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *pipeConduit) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stdin.Close()
		c.stdout.Close()
	})
	return c.closeErr
}

// Resize has no effect without a terminal device.
func (c *pipeConduit) Resize(cols, rows int) error { return nil }
