// Package syncengine builds and runs invocations of the file synchronization
// engine. The engine itself does the diffing and copying; this package only
// knows its command line.
package syncengine

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"

	goversion "github.com/hashicorp/go-version"

	"github.com/sidkik/devsync/pkg/command"
	"github.com/sidkik/devsync/pkg/errors"
)

// MinWatchVersion is the oldest engine release that supports `-repeat watch`.
var MinWatchVersion = goversion.Must(goversion.NewVersion("2.48"))

// Endpoint is the address of the sync engine running in the container.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("socket://%s:%s/", e.Host, e.Port)
}

// Engine runs the sync engine binary.
type Engine struct {
	binary string

	// Mocked out for unit testing.
	newCommand command.Factory
}

// New creates an Engine that runs `binary`.
func New(binary string) Engine {
	return Engine{binary: binary, newCommand: command.Default}
}

// Once runs a single non-interactive, silent sync in the foreground. The
// engine's output is written to `out`. The returned Result reflects the
// engine's exit status.
func (e Engine) Once(ctx context.Context, root string, endpoint Endpoint,
	ignores []string, out io.Writer) command.Result {
	args := append(baseArgs(root, endpoint), "-silent")
	args = append(args, ignoreArgs(ignores)...)
	return command.Stream(e.newCommand(ctx, e.binary, args...), out)
}

// WatchCommand returns the command for syncing continuously. The command
// is not started.
func (e Engine) WatchCommand(root string, endpoint Endpoint, ignores []string) *exec.Cmd {
	args := append(baseArgs(root, endpoint), "-repeat", "watch")
	args = append(args, ignoreArgs(ignores)...)

	// The watcher outlives this process, so it isn't tied to a context.
	return e.newCommand(context.Background(), e.binary, args...)
}

var versionPattern = regexp.MustCompile(`version\s+([0-9]+(?:\.[0-9]+)+)`)

// Version returns the version of the installed engine.
func (e Engine) Version(ctx context.Context) (*goversion.Version, error) {
	res := command.Capture(e.newCommand(ctx, e.binary, "-version"))
	if !res.Succeeded {
		return nil, errors.New("run %s -version: %s", e.binary, res.Output)
	}
	return parseVersion(res.Output)
}

func parseVersion(output string) (*goversion.Version, error) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return nil, errors.New("unrecognized version output: %q", output)
	}

	v, err := goversion.NewVersion(match[1])
	if err != nil {
		return nil, errors.WithContext(err, "parse version")
	}
	return v, nil
}

// CheckVersion returns an error if `v` can't run in watch mode.
func CheckVersion(v *goversion.Version) error {
	if v.LessThan(MinWatchVersion) {
		return errors.NewFriendlyError("The installed sync engine (%s) is older "+
			"than %s, and doesn't support watching for changes.", v, MinWatchVersion)
	}
	return nil
}

func baseArgs(root string, endpoint Endpoint) []string {
	return []string{root, endpoint.String(), "-auto", "-batch"}
}

func ignoreArgs(ignores []string) (args []string) {
	for _, rule := range ignores {
		args = append(args, "-ignore", rule)
	}
	return args
}
