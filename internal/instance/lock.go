// Package instance keeps two supervisors from driving the same server
// directory at once.
package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/loykin/craftvisor/internal/errs"
)

// Lock is an exclusive advisory lock on a file holding the owner's PID.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*Lock, error) {
	return acquire(context.Background(), path, 0)
}

// AcquireWait retries every poll until the lock is taken or ctx ends.
func AcquireWait(ctx context.Context, path string, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return acquire(ctx, path, poll)
}

func acquire(ctx context.Context, path string, poll time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errs.IO("create lock directory", err)
	}
	fl := flock.New(path)
	var (
		ok  bool
		err error
	)
	if poll > 0 {
		ok, err = fl.TryLockContext(ctx, poll)
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Timeout("waiting for instance lock " + path)
		}
		return nil, errs.IO("acquire instance lock", err)
	}
	if !ok {
		msg := "another supervisor holds " + path
		if pid, err := Holder(path); err == nil {
			msg = fmt.Sprintf("%s (pid %d)", msg, pid)
		}
		return nil, errs.InvalidState(msg)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		_ = fl.Unlock()
		return nil, errs.IO("write instance lock", err)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Holder reads the PID recorded in the lock file.
func Holder(path string) (int, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func (l *Lock) Path() string { return l.path }

// Close releases the lock. The file is left behind; its content is only
// meaningful while locked.
func (l *Lock) Close() error {
	return l.fl.Unlock()
}
