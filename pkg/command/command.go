// Package command runs external tools and reports their outcome as a Result
// that callers must branch on.
package command

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Result is the outcome of running an external tool.
type Result struct {
	Succeeded bool

	// Output is the diagnostic text of the run. For captured runs, it's the
	// combined output, and for Output runs it's stderr. For streamed runs,
	// it's only set on failure.
	Output string
}

// Failed creates an unsuccessful Result.
func Failed(output string) Result {
	return Result{Output: output}
}

// Factory builds commands. It's swapped out in unit tests.
type Factory func(ctx context.Context, name string, args ...string) *exec.Cmd

// Default runs commands on the host.
var Default Factory = exec.CommandContext

// Capture runs `cmd` to completion and captures its combined output.
func Capture(cmd *exec.Cmd) Result {
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	logRun(cmd, err)
	if err != nil {
		if output == "" {
			output = err.Error()
		}
		return Failed(output)
	}
	return Result{Succeeded: true, Output: output}
}

// Output runs `cmd` to completion and returns its standard output apart
// from the Result, whose Output holds standard error. It's used for commands
// whose stdout is parsed, since tools print warnings to stderr even when
// they succeed.
func Output(cmd *exec.Cmd) (string, Result) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	diagnostics := strings.TrimSpace(stderr.String())
	logRun(cmd, err)
	if err != nil {
		if diagnostics == "" {
			diagnostics = err.Error()
		}
		return stdout.String(), Failed(diagnostics)
	}

	if diagnostics != "" {
		log.WithField("stderr", diagnostics).Debug("Command printed warnings")
	}
	return stdout.String(), Result{Succeeded: true, Output: diagnostics}
}

// Stream runs `cmd` to completion with its combined output written to `out`.
func Stream(cmd *exec.Cmd, out io.Writer) Result {
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	logRun(cmd, err)
	if err != nil {
		return Failed(err.Error())
	}
	return Result{Succeeded: true}
}

func logRun(cmd *exec.Cmd, err error) {
	entry := log.WithField("command", strings.Join(cmd.Args, " "))
	if err != nil {
		entry.WithError(err).Debug("Command failed")
		return
	}
	entry.Debug("Command succeeded")
}
