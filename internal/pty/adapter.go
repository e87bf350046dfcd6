package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrWorkingDirMissing is returned when the requested working directory
	// does not exist or is not a directory.
	ErrWorkingDirMissing = errors.New("working directory does not exist")
	// ErrSpawnTimeout is returned when the OS did not confirm the spawn
	// within the configured timeout.
	ErrSpawnTimeout = errors.New("process spawn timed out")
)

const (
	defaultCols         = 80
	defaultRows         = 24
	defaultSpawnTimeout = 10 * time.Second
	readChunkSize       = 4096
)

// Options configures a spawn.
type Options struct {
	Shell        string // command to run; defaults to $SHELL then /bin/bash
	WorkingDir   string // must exist; callers pre-validate and substitute fallbacks
	Cols         int
	Rows         int
	Env          map[string]string
	SpawnTimeout time.Duration
	Strategy     Strategy // defaults to Probe()
}

// ExitStatus describes how the process ended.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// Adapter owns one spawned shell process and its I/O conduit.
type Adapter struct {
	cmd      *exec.Cmd
	conduit  Conduit
	strategy string

	output   chan []byte
	exited   chan ExitStatus
	readDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Spawn starts a shell process per the given options. The spawn is bounded
// by Options.SpawnTimeout; if the OS hangs the caller gets ErrSpawnTimeout
// and the stray process, if it ever materializes, is killed.
func Spawn(opts Options) (*Adapter, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = os.Getenv("HOME")
		if workingDir == "" {
			workingDir = "/tmp"
		}
	}
	info, err := os.Stat(workingDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkingDirMissing, workingDir)
	}

	cols := opts.Cols
	if cols <= 0 {
		cols = defaultCols
	}
	rows := opts.Rows
	if rows <= 0 {
		rows = defaultRows
	}

	strategy := opts.Strategy
	if strategy == nil {
		strategy = Probe()
	}

	timeout := opts.SpawnTimeout
	if timeout <= 0 {
		timeout = defaultSpawnTimeout
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	type startResult struct {
		conduit Conduit
		err     error
	}
	resultCh := make(chan startResult, 1)
	go func() {
		conduit, err := strategy.Start(cmd, cols, rows)
		resultCh <- startResult{conduit, err}
	}()

	var conduit Conduit
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		conduit = res.conduit
	case <-time.After(timeout):
		// Reap the process if the hung spawn ever completes.
		go func() {
			if res := <-resultCh; res.err == nil {
				res.conduit.Close()
				if cmd.Process != nil {
					cmd.Process.Kill()
					cmd.Wait()
				}
			}
		}()
		return nil, ErrSpawnTimeout
	}

	a := &Adapter{
		cmd:      cmd,
		conduit:  conduit,
		strategy: strategy.Name(),
		output:   make(chan []byte, 64),
		exited:   make(chan ExitStatus, 1),
		readDone: make(chan struct{}),
	}

	go a.readLoop()
	go a.waitLoop()

	return a, nil
}

// readLoop pumps process output into the output channel in generation order.
func (a *Adapter) readLoop() {
	defer close(a.output)
	defer close(a.readDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := a.conduit.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.output <- chunk
		}
		if err != nil {
			// EOF or a closed PTY both mean the stream is done.
			return
		}
	}
}

// waitLoop reaps the process after the output stream drains and publishes
// the exit status. The read loop must finish first: with stdout pipes,
// Wait closes the read side and would truncate output emitted just before
// exit, and closing the conduit early races the final reads on a PTY.
func (a *Adapter) waitLoop() {
	<-a.readDone

	err := a.cmd.Wait()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.conduit.Close()

	status := ExitStatus{}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	} else if err != nil {
		status.Code = -1
	}

	a.exited <- status
	close(a.exited)
}

// Output returns the ordered stream of output chunks. The channel is closed
// when the process output ends.
func (a *Adapter) Output() <-chan []byte {
	return a.output
}

// Exited returns a channel that receives the exit status exactly once.
func (a *Adapter) Exited() <-chan ExitStatus {
	return a.exited
}

// Write sends input bytes to the process.
func (a *Adapter) Write(p []byte) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return io.ErrClosedPipe
	}

	_, err := a.conduit.Write(p)
	return err
}

// Resize changes the terminal dimensions.
func (a *Adapter) Resize(cols, rows int) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return io.ErrClosedPipe
	}
	return a.conduit.Resize(cols, rows)
}

// Kill sends the given signal to the process. Passing nil sends SIGKILL.
func (a *Adapter) Kill(sig os.Signal) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed || a.cmd.Process == nil {
		return nil
	}
	if sig == nil {
		sig = syscall.SIGKILL
	}
	return a.cmd.Process.Signal(sig)
}

// PID returns the OS process identifier.
func (a *Adapter) PID() int {
	if a.cmd.Process == nil {
		return 0
	}
	return a.cmd.Process.Pid
}

// Strategy returns the name of the spawn strategy used ("pty" or "pipe").
func (a *Adapter) Strategy() string {
	return a.strategy
}

// Alive reports whether the process is still running.
func (a *Adapter) Alive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed
}
