package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/devsync/pkg/command"
	"github.com/sidkik/devsync/pkg/compose"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/session"
	"github.com/sidkik/devsync/pkg/syncengine"
)

// fakeSystem stands in for the compose stack, the Docker daemon, and the
// sync engine. It records every call in order so that tests can assert on
// the sequencing of an action.
type fakeSystem struct {
	sess  session.Session
	clock clockwork.FakeClock

	calls []string

	// results overrides the result of a call. Calls not in the map succeed.
	results map[string]command.Result

	port         string
	syncDuration time.Duration
	watchErr     error
	watchPID     int

	syncIgnores  []string
	watchIgnores []string
}

func (sys *fakeSystem) run(name string) command.Result {
	sys.calls = append(sys.calls, name)
	if res, ok := sys.results[name]; ok {
		return res
	}
	return command.Result{Succeeded: true}
}

func (sys *fakeSystem) Resolve(context.Context) string {
	sys.calls = append(sys.calls, "resolve")
	return sys.port
}

func (sys *fakeSystem) Endpoint(port string) (syncengine.Endpoint, bool) {
	if port == "" {
		return syncengine.Endpoint{}, false
	}
	return syncengine.Endpoint{Host: "localhost", Port: port}, true
}

func (sys *fakeSystem) Once(_ context.Context, _ string, endpoint syncengine.Endpoint,
	ignores []string, out io.Writer) command.Result {
	sys.syncIgnores = ignores
	fmt.Fprintln(out, "synced")
	sys.clock.Advance(sys.syncDuration)
	return sys.run("sync " + endpoint.String())
}

type fakeStack struct {
	*fakeSystem
}

func (s fakeStack) Up(_ context.Context, opts compose.UpOptions) command.Result {
	if opts.ForceRecreate {
		return s.run("up --force-recreate")
	}
	return s.run("up")
}

func (s fakeStack) Down(_ context.Context, opts compose.DownOptions) command.Result {
	if opts.Volumes {
		return s.run("down -v")
	}
	return s.run("down")
}

func (s fakeStack) Stop(context.Context) command.Result {
	return s.run("stop")
}

func (s fakeStack) Restart(context.Context) command.Result {
	return s.run("restart")
}

type fakeWatcher struct {
	*fakeSystem
}

func (w fakeWatcher) Start(endpoint syncengine.Endpoint, ignores []string) (int, error) {
	w.calls = append(w.calls, "watch "+endpoint.String())
	w.watchIgnores = ignores
	if w.watchErr != nil {
		return 0, w.watchErr
	}
	return w.watchPID, w.sess.WritePID(w.watchPID)
}

func (w fakeWatcher) Stop() (bool, error) {
	w.calls = append(w.calls, "unwatch")
	if !w.sess.HasPID() {
		return false, nil
	}
	return true, w.sess.RemovePID()
}

func (w fakeWatcher) Exists() bool {
	return w.sess.HasPID()
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.messages = append(n.messages, message)
}

type fakeConfirmer struct {
	answer bool
	asked  int
}

func (c *fakeConfirmer) Confirm(string) bool {
	c.asked++
	return c.answer
}

type testEnv struct {
	coord     *Coordinator
	sys       *fakeSystem
	notifier  *recordingNotifier
	confirmer *fakeConfirmer
	out       *bytes.Buffer
}

func newTestEnv(t *testing.T) testEnv {
	sess, err := session.NewWithFs(afero.NewMemMapFs(), "/proj")
	require.NoError(t, err)

	sys := &fakeSystem{
		sess:         sess,
		clock:        clockwork.NewFakeClock(),
		results:      map[string]command.Result{},
		port:         "32768",
		syncDuration: 90 * time.Second,
		watchPID:     4821,
	}
	notifier := &recordingNotifier{}
	confirmer := &fakeConfirmer{}
	out := &bytes.Buffer{}

	return testEnv{
		coord: &Coordinator{
			Session:        sess,
			Stack:          fakeStack{sys},
			Resolver:       sys,
			Watcher:        fakeWatcher{sys},
			Syncer:         sys,
			Notifier:       notifier,
			Confirmer:      confirmer,
			Clock:          sys.clock,
			WatchIgnores:   []string{"Name .git"},
			InitialIgnores: []string{"Name .git", "Path vendor"},
			Out:            out,
		},
		sys:       sys,
		notifier:  notifier,
		confirmer: confirmer,
		out:       out,
	}
}

func (env testEnv) readLog(t *testing.T) string {
	contents, err := afero.ReadFile(env.sys.sess.Fs(), env.sys.sess.LogPath)
	require.NoError(t, err)
	return string(contents)
}

const endpoint = "socket://localhost:32768/"

var initialSyncCalls = []string{"unwatch", "down", "up", "resolve", "sync " + endpoint}

func TestStartFirstRun(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess

	// Output from a previous session.
	require.NoError(t, afero.WriteFile(sess.Fs(), sess.LogPath, []byte("old\n"), 0644))

	require.NoError(t, env.coord.Start(context.Background()))

	expCalls := append(append([]string{}, initialSyncCalls...),
		"unwatch", "stop", "up --force-recreate", "resolve", "watch "+endpoint)
	assert.Equal(t, expCalls, env.sys.calls)

	assert.Equal(t, session.Running, sess.State())
	pid, err := sess.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, 4821, pid)

	assert.Equal(t, []string{"Name .git", "Path vendor"}, env.sys.syncIgnores)
	assert.Equal(t, []string{"Name .git"}, env.sys.watchIgnores)
	assert.Equal(t, "synced\n", env.readLog(t))

	assert.Equal(t, []string{
		"Initial sync completed in 1m30s.",
		"Stack started. Syncing through port 32768.",
	}, env.notifier.messages)
	assert.Contains(t, env.out.String(), "Stack started. Syncing through port 32768.")
}

func TestStartInitialized(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())

	require.NoError(t, env.coord.Start(context.Background()))
	assert.Equal(t, []string{"unwatch", "stop", "up --force-recreate", "resolve",
		"watch " + endpoint}, env.sys.calls)
	assert.Equal(t, session.Running, env.sys.sess.State())
	assert.Equal(t, []string{"Stack started. Syncing through port 32768."},
		env.notifier.messages)
}

func TestStartReplacesRunningWatcher(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())
	require.NoError(t, env.sys.sess.WritePID(1234))

	require.NoError(t, env.coord.Start(context.Background()))

	pid, err := env.sys.sess.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, 4821, pid)
}

func TestInitialSyncFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeSystem)
		expErr   error
		expCalls []string
		expMsg   string
	}{
		{
			name: "stack fails to start",
			setup: func(sys *fakeSystem) {
				sys.results["up"] = command.Failed("port is already allocated")
			},
			expErr:   ErrStackStartFailed,
			expCalls: []string{"unwatch", "down", "up"},
			expMsg:   "port is already allocated",
		},
		{
			name: "sync container unreachable",
			setup: func(sys *fakeSystem) {
				sys.port = ""
			},
			expErr:   ErrSyncUnreachable,
			expCalls: []string{"unwatch", "down", "up", "resolve"},
			expMsg:   "isn't reachable",
		},
		{
			name: "sync engine fails",
			setup: func(sys *fakeSystem) {
				sys.results["sync "+endpoint] = command.Failed("exit status 3")
			},
			expErr:   ErrInitialSyncFailed,
			expCalls: initialSyncCalls,
			expMsg:   "Initial sync failed after 1m30s: exit status 3",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t)
			test.setup(env.sys)

			err := env.coord.Start(context.Background())
			assert.True(t, errors.Is(err, test.expErr), "unexpected error: %v", err)
			assert.Equal(t, test.expCalls, env.sys.calls)

			// A failed initial sync must never mark the root as initialized,
			// or start a watcher.
			assert.Equal(t, session.Uninitialized, env.sys.sess.State())
			assert.False(t, env.sys.sess.HasPID())

			require.Len(t, env.notifier.messages, 1)
			assert.Contains(t, env.notifier.messages[0], test.expMsg)
			assert.Contains(t, env.out.String(), "✘")
		})
	}
}

func TestInitialSyncFailureIsFriendly(t *testing.T) {
	env := newTestEnv(t)
	env.sys.results["sync "+endpoint] = command.Failed("exit status 3")

	err := env.coord.InitialSync(context.Background())
	require.Error(t, err)
	assert.Equal(t, "The initial sync failed (exit status 3). See "+
		"/proj/.devsync.log for details.", errors.GetPrintableMessage(err))
}

func TestStartNonFatalFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeSystem)
		expMsg string
	}{
		{
			name: "stack fails to start",
			setup: func(sys *fakeSystem) {
				sys.results["up --force-recreate"] = command.Failed("no such image")
			},
			expMsg: "Failed to start the stack:\nno such image",
		},
		{
			name: "sync container unreachable",
			setup: func(sys *fakeSystem) {
				sys.port = ""
			},
			expMsg: "Stack started. But the sync container isn't reachable",
		},
		{
			name: "watcher fails to start",
			setup: func(sys *fakeSystem) {
				sys.watchErr = errors.NewFriendlyError("unison not found")
			},
			expMsg: "Stack started. But the sync watcher failed to start: unison not found",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.sys.sess.MarkInitialized())
			test.setup(env.sys)

			assert.NoError(t, env.coord.Start(context.Background()))
			assert.Equal(t, session.Stopped, env.sys.sess.State())

			require.Len(t, env.notifier.messages, 1)
			assert.Contains(t, env.notifier.messages[0], test.expMsg)
		})
	}
}

func TestRestart(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())
	require.NoError(t, sess.WritePID(1234))
	require.NoError(t, afero.WriteFile(sess.Fs(), sess.LogPath, []byte("old\n"), 0644))

	require.NoError(t, env.coord.Restart(context.Background()))
	assert.Equal(t, []string{"unwatch", "restart", "resolve", "watch " + endpoint},
		env.sys.calls)
	assert.Equal(t, session.Running, sess.State())
	assert.Equal(t, []string{"Stack restarted. Syncing through port 32768."},
		env.notifier.messages)

	exists, err := afero.Exists(sess.Fs(), sess.LogPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRestartFails(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())
	require.NoError(t, env.sys.sess.WritePID(1234))
	env.sys.results["restart"] = command.Failed("No containers to restart")

	require.NoError(t, env.coord.Restart(context.Background()))

	// The watcher is only started if the restart succeeded.
	assert.Equal(t, []string{"unwatch", "restart"}, env.sys.calls)
	assert.Equal(t, session.Stopped, env.sys.sess.State())
	assert.Equal(t, []string{"Failed to restart the stack:\nNo containers to restart"},
		env.notifier.messages)
}

func TestStop(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())
	require.NoError(t, sess.WritePID(4821))
	require.NoError(t, afero.WriteFile(sess.Fs(), sess.LogPath, []byte("log\n"), 0644))

	require.NoError(t, env.coord.Stop(context.Background()))
	assert.Equal(t, []string{"unwatch", "stop"}, env.sys.calls)
	assert.Equal(t, session.Stopped, sess.State())
	assert.Equal(t, []string{"Sync and stack stopped."}, env.notifier.messages)

	exists, err := afero.Exists(sess.Fs(), sess.LogPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStopStackFails(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.WritePID(4821))
	env.sys.results["stop"] = command.Failed("Cannot connect to the Docker daemon")

	require.NoError(t, env.coord.Stop(context.Background()))
	assert.False(t, env.sys.sess.HasPID())
	require.Len(t, env.notifier.messages, 1)
	assert.Contains(t, env.notifier.messages[0], "Cannot connect to the Docker daemon")
}

func TestStopWithoutWatcher(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())
	require.NoError(t, afero.WriteFile(sess.Fs(), sess.LogPath, []byte("log\n"), 0644))

	// Stopping twice has the same effect as stopping once.
	for i := 0; i < 2; i++ {
		require.NoError(t, env.coord.Stop(context.Background()))
	}

	assert.Empty(t, env.sys.calls)
	assert.Equal(t, session.Stopped, sess.State())
	assert.Equal(t, "log\n", env.readLog(t))

	require.Len(t, env.notifier.messages, 2)
	for _, msg := range env.notifier.messages {
		assert.Contains(t, msg, "Nothing to stop")
		assert.Contains(t, msg, "/proj/.devsync.pid")
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())
	require.NoError(t, sess.WritePID(1234))

	require.NoError(t, env.coord.Reset(context.Background(), true))
	assert.Zero(t, env.confirmer.asked)

	expCalls := append(append([]string{}, initialSyncCalls...),
		"unwatch", "stop", "up --force-recreate", "resolve", "watch "+endpoint)
	assert.Equal(t, expCalls, env.sys.calls)
	assert.Equal(t, session.Running, sess.State())

	// The initial sync's output is kept after the stack is started.
	assert.Equal(t, "synced\n", env.readLog(t))
}

func TestResetConfirmation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())

	env.confirmer.answer = false
	require.NoError(t, env.coord.Reset(context.Background(), false))
	assert.Equal(t, 1, env.confirmer.asked)
	assert.Empty(t, env.sys.calls)
	assert.True(t, sess.Initialized())
	assert.Contains(t, env.out.String(), "Aborted.")

	env.confirmer.answer = true
	require.NoError(t, env.coord.Reset(context.Background(), false))
	assert.Equal(t, 2, env.confirmer.asked)
	assert.Equal(t, session.Running, sess.State())
}

func TestResetInitialSyncFails(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())
	env.sys.results["up"] = command.Failed("port is already allocated")

	err := env.coord.Reset(context.Background(), true)
	assert.True(t, errors.Is(err, ErrStackStartFailed))
	assert.Equal(t, session.Uninitialized, env.sys.sess.State())
}

func TestDestroy(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	require.NoError(t, sess.MarkInitialized())
	require.NoError(t, sess.WritePID(4821))

	env.confirmer.answer = true
	require.NoError(t, env.coord.Destroy(context.Background(), false))
	assert.Equal(t, 1, env.confirmer.asked)
	assert.Equal(t, []string{"unwatch", "down -v"}, env.sys.calls)
	assert.Equal(t, session.Uninitialized, sess.State())
	assert.False(t, sess.HasPID())
	assert.Equal(t, []string{"Stack and sync state removed."}, env.notifier.messages)
}

func TestDestroyDeclined(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())

	require.NoError(t, env.coord.Destroy(context.Background(), false))
	assert.Empty(t, env.sys.calls)
	assert.True(t, env.sys.sess.Initialized())
	assert.Empty(t, env.notifier.messages)
}

func TestDestroyStackFails(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sys.sess.MarkInitialized())
	env.sys.results["down -v"] = command.Failed("network in use")

	require.NoError(t, env.coord.Destroy(context.Background(), true))

	// The marker is removed even though the stack couldn't be.
	assert.False(t, env.sys.sess.Initialized())
	assert.Equal(t, []string{"Failed to remove the stack:\nnetwork in use"},
		env.notifier.messages)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	sess := env.sys.sess
	ctx := context.Background()

	assert.Equal(t, Status{State: session.Uninitialized}, env.coord.Status(ctx))

	require.NoError(t, sess.MarkInitialized())
	assert.Equal(t, Status{State: session.Stopped}, env.coord.Status(ctx))

	require.NoError(t, sess.WritePID(4821))
	assert.Equal(t, Status{State: session.Running, Port: "32768"}, env.coord.Status(ctx))

	env.sys.port = ""
	assert.Equal(t, Status{State: session.Running}, env.coord.Status(ctx))
}
