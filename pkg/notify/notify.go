// Package notify delivers short messages to the operator's desktop.
package notify

import (
	"github.com/gen2brain/beeep"
	log "github.com/sirupsen/logrus"
)

// Notifier delivers a notification. Delivery is best effort: failures are
// never reported to the caller.
type Notifier interface {
	Notify(title, message string)
}

// Desktop sends notifications through the desktop environment's
// notification service.
type Desktop struct{}

// Mocked out for unit testing.
var send = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Notify implements Notifier.
func (Desktop) Notify(title, message string) {
	if err := send(title, message); err != nil {
		log.WithError(err).Debug("Failed to send desktop notification")
	}
}

// Discard drops all notifications.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(string, string) {}
