package instance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/craftvisor/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "craftvisor.lock")
	l, err := Acquire(path)
	require.NoError(t, err)

	pid, err := Holder(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindInvalidState))
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, l.Close())
	l2, err := Acquire(path)
	require.NoError(t, err)
	assert.NoError(t, l2.Close())
}

func TestAcquireWaitTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "craftvisor.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = AcquireWait(ctx, path, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.KindTimeout))
}

func TestAcquireWaitSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "craftvisor.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	time.AfterFunc(50*time.Millisecond, func() { _ = l.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l2, err := AcquireWait(ctx, path, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, path, l2.Path())
	assert.NoError(t, l2.Close())
}
