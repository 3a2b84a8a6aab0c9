package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/craftvisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	commands []string
	err      error
}

func (f *fakeRunner) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) Start(context.Context) error {
	f.record("start")
	return f.err
}

func (f *fakeRunner) Stop(context.Context) (*supervisor.Task, error) {
	f.record("stop")
	return supervisor.Completed(f.err), nil
}

func (f *fakeRunner) Restart(context.Context) error {
	f.record("restart")
	return f.err
}

func (f *fakeRunner) SendCommand(_ context.Context, text string) error {
	f.record("command")
	f.mu.Lock()
	f.commands = append(f.commands, text)
	f.mu.Unlock()
	return f.err
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"restart", Job{Name: "n", Cron: "0 4 * * *", Action: ActionRestart}, true},
		{"descriptor", Job{Name: "n", Cron: "@every 10m", Action: ActionStop}, true},
		{"command", Job{Name: "n", Cron: "@hourly", Action: ActionCommand, Command: "save-all"}, true},
		{"no name", Job{Cron: "@hourly", Action: ActionStart}, false},
		{"bad cron", Job{Name: "n", Cron: "every day", Action: ActionStart}, false},
		{"seconds field", Job{Name: "n", Cron: "0 0 4 * * *", Action: ActionStart}, false},
		{"no command", Job{Name: "n", Cron: "@hourly", Action: ActionCommand}, false},
		{"bad action", Job{Name: "n", Cron: "@hourly", Action: "reboot"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := New(&fakeRunner{}, nil, time.UTC)
	require.NoError(t, s.Add(Job{Name: "nightly", Cron: "0 4 * * *", Action: ActionRestart}))
	assert.Error(t, s.Add(Job{Name: "nightly", Cron: "0 5 * * *", Action: ActionRestart}))
	assert.Error(t, s.Add(Job{Name: "broken", Cron: "nope", Action: ActionRestart}))
	assert.Len(t, s.Entries(), 1)
}

func TestRunNowDispatchesActions(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, nil, time.UTC)
	require.NoError(t, s.Add(Job{Name: "a", Cron: "@daily", Action: ActionStart}))
	require.NoError(t, s.Add(Job{Name: "b", Cron: "@daily", Action: ActionStop}))
	require.NoError(t, s.Add(Job{Name: "c", Cron: "@daily", Action: ActionRestart}))
	require.NoError(t, s.Add(Job{Name: "d", Cron: "@daily", Action: ActionCommand, Command: "save-all"}))

	for _, n := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.RunNow(n))
	}
	assert.Equal(t, []string{"start", "stop", "restart", "command"}, r.Calls())
	assert.Equal(t, []string{"save-all"}, r.commands)
	assert.Error(t, s.RunNow("missing"))
}

func TestRunNowPropagatesErrors(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	s := New(r, nil, time.UTC)
	require.NoError(t, s.Add(Job{Name: "stop", Cron: "@daily", Action: ActionStop}))
	assert.EqualError(t, s.RunNow("stop"), "boom")
}

func TestRemove(t *testing.T) {
	s := New(&fakeRunner{}, nil, time.UTC)
	require.NoError(t, s.Add(Job{Name: "a", Cron: "@daily", Action: ActionStart}))
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Empty(t, s.Entries())
}

func TestSchedulerFires(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, nil, time.UTC)
	require.NoError(t, s.Add(Job{Name: "tick", Cron: "@every 1s", Action: ActionCommand, Command: "list"}))
	s.Start()
	defer s.Stop(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero())
	assert.Eventually(t, func() bool { return len(r.Calls()) > 0 }, 3*time.Second, 20*time.Millisecond)
}
