package util

import (
	"context"
	"os"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/pkg/compose"
	"github.com/sidkik/devsync/pkg/config"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/lifecycle"
	"github.com/sidkik/devsync/pkg/notify"
	"github.com/sidkik/devsync/pkg/portresolver"
	"github.com/sidkik/devsync/pkg/session"
	"github.com/sidkik/devsync/pkg/syncengine"
	"github.com/sidkik/devsync/pkg/watcher"
)

// LoadSession creates the session for the sync root, which is always the
// working directory.
func LoadSession() (session.Session, error) {
	root, err := os.Getwd()
	if err != nil {
		return session.Session{}, errors.WithContext(err, "get working directory")
	}
	return session.New(root)
}

// CoordinatorOptions controls how NewCoordinator wires the coordinator.
type CoordinatorOptions struct {
	// CheckSyncEngine warns if the installed sync engine is too old to
	// watch for changes.
	CheckSyncEngine bool
}

// NewCoordinator wires a lifecycle coordinator for the sync root from the
// project config.
func NewCoordinator(ctx context.Context, opts CoordinatorOptions) (*lifecycle.Coordinator, error) {
	sess, err := LoadSession()
	if err != nil {
		return nil, errors.WithContext(err, "load session")
	}

	cfg, err := config.ParseProject(sess.Root)
	if err != nil {
		return nil, errors.WithContext(err, "parse project config")
	}

	stack := compose.New(cfg.ComposeBinary, cfg.ComposeFiles, sess.Root)

	// Without a Docker client the port never resolves, and each action
	// reports the sync container as unreachable.
	var docker portresolver.ContainerAPI
	if dockerClient, err := portresolver.NewDockerClient(); err == nil {
		docker = dockerClient
	} else {
		log.WithError(err).Warn("Failed to connect to Docker")
	}

	resolver, err := portresolver.New(stack, docker, cfg.SyncService, cfg.SyncPort, cfg.SyncHost)
	if err != nil {
		return nil, errors.WithContext(err, "create port resolver")
	}

	engine := syncengine.New(cfg.SyncBinary)
	if opts.CheckSyncEngine {
		checkSyncEngine(ctx, engine)
	}

	var notifier notify.Notifier = notify.Discard{}
	if cfg.NotificationsEnabled() {
		notifier = notify.Desktop{}
	}

	return &lifecycle.Coordinator{
		Session:        sess,
		Stack:          stack,
		Resolver:       resolver,
		Watcher:        watcher.New(sess, engine),
		Syncer:         engine,
		Notifier:       notifier,
		Confirmer:      PromptConfirmer{},
		Clock:          clockwork.NewRealClock(),
		WatchIgnores:   cfg.WatchIgnores(),
		InitialIgnores: cfg.InitialIgnores(),
		Out:            os.Stdout,
	}, nil
}

func checkSyncEngine(ctx context.Context, engine syncengine.Engine) {
	version, err := engine.Version(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to get the sync engine's version")
		return
	}

	if err := syncengine.CheckVersion(version); err != nil {
		log.Warn(errors.GetPrintableMessage(err))
	}
}

// NoInteractionFlag is the persistent flag that skips confirmation prompts.
const NoInteractionFlag = "no-interaction"

// Quiet returns whether confirmation prompts should be skipped.
func Quiet(cmd *cobra.Command) bool {
	quiet, err := cmd.Flags().GetBool(NoInteractionFlag)
	if err != nil {
		log.WithError(err).Debug("Failed to get no-interaction flag")
		return false
	}
	return quiet
}

// RunAction wires a coordinator and runs `action` with it. Fatal errors
// terminate the program.
func RunAction(cmd *cobra.Command, opts CoordinatorOptions,
	action func(context.Context, *lifecycle.Coordinator) error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	coord, err := NewCoordinator(ctx, opts)
	if err != nil {
		HandleFatalError(err)
		return
	}

	if err := action(ctx, coord); err != nil {
		HandleFatalError(err)
	}
}
