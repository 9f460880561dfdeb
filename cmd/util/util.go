package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/devsync/pkg/errors"
)

// Mocked out for unit testing.
var (
	stdin  io.Reader = os.Stdin
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, goterm.Color(errors.GetPrintableMessage(err), goterm.RED))
	exit(1)
}

// HandlePanic logs the stack trace of a panic before crashing, so that it
// shows up in verbose logs.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Error("devsync crashed")
		panic(r)
	}
}

// PromptYesOrNo asks the user a yes or no question. Only `y` and `yes` are
// treated as affirmative. Anything else, including an empty line or the end
// of input, is a no.
func PromptYesOrNo(prompt string) (bool, error) {
	fmt.Fprintf(stderr, "%s (y/N) ", prompt)

	response, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.WithContext(err, "read response")
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// PromptConfirmer confirms actions through PromptYesOrNo.
type PromptConfirmer struct{}

// Confirm implements lifecycle.Confirmer.
func (PromptConfirmer) Confirm(prompt string) bool {
	ok, err := PromptYesOrNo(prompt)
	if err != nil {
		log.WithError(err).Warn("Failed to read confirmation. Assuming no")
		return false
	}
	return ok
}
