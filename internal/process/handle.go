// Package process spawns the server and wraps the running child in an
// exclusively owned Handle.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle is the running child process plus its stdin. stdout and stderr are
// detached exactly once through TakeStdout/TakeStderr.
type Handle struct {
	cmd *exec.Cmd
	pid int

	stdinMu sync.Mutex
	stdin   *os.File

	streamMu sync.Mutex
	stdout   *os.File
	stderr   *os.File

	waitDone chan struct{} // closed when cmd.Wait returns
	exitErr  error
}

// Spawn starts spec with piped stdio. The caller owns the returned handle.
//
// All three streams use os.Pipe directly. cmd.Wait never closes the read ends
// underneath the readers, and the stdin write end supports deadlines so a
// child that stops reading cannot block a writer forever.
func Spawn(spec Spec) (*Handle, error) {
	cmd := spec.BuildCommand()

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	// the child holds its own copies now
	closeAll(inR, outW, errW)

	h := &Handle{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		stdin:    inW,
		stdout:   outR,
		stderr:   errR,
		waitDone: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		h.exitErr = err
		close(h.waitDone)
		_ = h.CloseStdin()
	}()
	return h, nil
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		_ = f.Close()
	}
}

func (h *Handle) PID() int { return h.pid }

// TakeStdout detaches the stdout reader. It returns nil if already taken.
func (h *Handle) TakeStdout() io.ReadCloser {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	if h.stdout == nil {
		return nil
	}
	f := h.stdout
	h.stdout = nil
	return f
}

// TakeStderr detaches the stderr reader. It returns nil if already taken.
func (h *Handle) TakeStderr() io.ReadCloser {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	if h.stderr == nil {
		return nil
	}
	f := h.stderr
	h.stderr = nil
	return f
}

// DefaultWriteTimeout bounds WriteLine.
const DefaultWriteTimeout = 5 * time.Second

// ErrNoStdin is returned by WriteLine once stdin has been closed.
var ErrNoStdin = errors.New("stdin is not available")

// WriteLine writes line plus a newline to stdin within DefaultWriteTimeout.
func (h *Handle) WriteLine(line string) error {
	return h.WriteLineTimeout(line, DefaultWriteTimeout)
}

// WriteLineTimeout writes line plus a newline to stdin. The write fails with
// an error matching os.ErrDeadlineExceeded when the child has not drained the
// pipe within d; part of the line may have been written by then. A d of zero
// or less disables the deadline.
func (h *Handle) WriteLineTimeout(line string, d time.Duration) error {
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if h.stdin == nil {
		return ErrNoStdin
	}
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := h.stdin.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := h.stdin.WriteString(line + "\n")
	return err
}

// CloseStdin closes the child's input. It waits for a write in progress.
func (h *Handle) CloseStdin() error {
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	h.stdin = nil
	return err
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.waitDone:
		return true
	default:
		return false
	}
}

// ExitErr is the cmd.Wait result; only meaningful once Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.waitDone:
		return h.exitErr
	default:
		return nil
	}
}

// WaitTimeout waits up to d for the process to exit. exited is false on timeout.
func (h *Handle) WaitTimeout(d time.Duration) (exited bool, err error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.waitDone:
		return true, h.exitErr
	case <-t.C:
		return false, nil
	}
}

// Kill sends SIGKILL to the process group. Killing an already reaped process
// is not an error.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	if err := killGroup(h.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// IsExitError reports whether err is the normal non-zero exit of the child
// rather than a failure of the wait itself.
func IsExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}
