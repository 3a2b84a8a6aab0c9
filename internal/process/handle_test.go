package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

// shSpec runs script through /bin/sh in place of the java runtime; the
// trailing "-jar <jar> nogui" become $0..$2.
func shSpec(t *testing.T, script string) Spec {
	t.Helper()
	return Spec{
		JavaPath: "/bin/sh",
		JarPath:  filepath.Join(t.TempDir(), "server.jar"),
		Args:     []string{"-c", script},
	}
}

func TestSpecArgv(t *testing.T) {
	s := Spec{JarPath: "/srv/mc/server.jar", Args: []string{"-Xmx2G", "-Xms1G"}}
	assert.Equal(t, []string{"-Xmx2G", "-Xms1G", "-jar", "/srv/mc/server.jar", "nogui"}, s.Argv())
	assert.Equal(t, "/srv/mc", s.Dir())

	s.WorkDir = "/data"
	assert.Equal(t, "/data", s.Dir())

	cmd := s.BuildCommand()
	assert.Equal(t, "/data", cmd.Dir)
	assert.Equal(t, "java", filepath.Base(cmd.Args[0]))
}

func TestSpawnCapturesStreamsOnce(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec(t, `echo out; echo err 1>&2`))
	require.NoError(t, err)
	assert.Greater(t, h.PID(), 0)

	out := h.TakeStdout()
	require.NotNil(t, out)
	assert.Nil(t, h.TakeStdout(), "stdout can only be taken once")
	errR := h.TakeStderr()
	require.NotNil(t, errR)
	assert.Nil(t, h.TakeStderr())

	ob, _ := io.ReadAll(out)
	eb, _ := io.ReadAll(errR)
	assert.Equal(t, "out\n", string(ob))
	assert.Equal(t, "err\n", string(eb))

	exited, err := h.WaitTimeout(2 * time.Second)
	assert.True(t, exited)
	assert.NoError(t, err)
	assert.True(t, h.Exited())
}

func TestWriteLineReachesChild(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec(t, `read line; echo "got:$line"`))
	require.NoError(t, err)
	out := h.TakeStdout()

	require.NoError(t, h.WriteLine("say hello"))
	line, err := bufio.NewReader(out).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "got:say hello", strings.TrimSpace(line))

	exited, _ := h.WaitTimeout(2 * time.Second)
	assert.True(t, exited)
}

func TestWriteLineAfterCloseStdin(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec(t, `cat >/dev/null`))
	require.NoError(t, err)
	require.NoError(t, h.CloseStdin())
	assert.ErrorIs(t, h.WriteLine("stop"), ErrNoStdin)

	exited, _ := h.WaitTimeout(2 * time.Second)
	assert.True(t, exited, "closing stdin ends cat")
}

func TestWriteLineTimeoutWhenChildStopsReading(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec(t, `sleep 30`))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })

	big := strings.Repeat("x", 256<<10)
	start := time.Now()
	err = h.WriteLineTimeout(big, 200*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the pipe is still usable for the next writer
	go func() { _ = h.WriteLineTimeout(big, 10*time.Second) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.Kill())
	exited, _ := h.WaitTimeout(2 * time.Second)
	assert.True(t, exited)
	require.Eventually(t, func() bool {
		return errors.Is(h.WriteLine("stop"), ErrNoStdin)
	}, 5*time.Second, 10*time.Millisecond, "stdin is closed once the child is reaped")
}

func TestWaitTimeoutThenKill(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec(t, `sleep 30`))
	require.NoError(t, err)

	exited, _ := h.WaitTimeout(100 * time.Millisecond)
	assert.False(t, exited)

	require.NoError(t, h.Kill())
	exited, err = h.WaitTimeout(2 * time.Second)
	require.True(t, exited)
	assert.True(t, IsExitError(err), "killed child reports an exit error, got %v", err)
	assert.NoError(t, h.Kill(), "kill after exit is a no-op")
}

func TestKillReachesProcessGroup(t *testing.T) {
	requireUnix(t)
	// the grandchild keeps stdout open; EOF only arrives if the whole group dies
	h, err := Spawn(shSpec(t, `sleep 30 & wait`))
	require.NoError(t, err)
	out := h.TakeStdout()

	require.NoError(t, h.Kill())
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, out)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stdout did not reach EOF after group kill")
	}
}

func TestSpawnMissingRuntime(t *testing.T) {
	_, err := Spawn(Spec{JavaPath: filepath.Join(t.TempDir(), "no-java"), JarPath: "x.jar"})
	assert.Error(t, err)
}
