package ui

import (
	"fmt"
	"log"
	"os"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/gen2brain/beeep"
)

const maxNotificationBody = 100

// DesktopNotifier raises an OS notification for each received NOTIFICATION.
type DesktopNotifier struct {
	send   func(title, body string) error
	logger *log.Logger
}

func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		send: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLogger sets a custom logger for delivery failures.
func (d *DesktopNotifier) SetLogger(logger *log.Logger) {
	d.logger = logger
}

// Notify shows n. Delivery failures are logged and returned but never fatal
// to the session.
func (d *DesktopNotifier) Notify(n *protocol.NotificationMessage) error {
	title, body := notificationText(n)
	if err := d.send(title, body); err != nil {
		if d.logger != nil {
			d.logger.Printf("Desktop notification failed: %v", err)
		}
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

func notificationText(n *protocol.NotificationMessage) (string, string) {
	title := "Post from " + n.Sender
	if n.IsPrivate() {
		title = "PM from " + n.Sender
	}

	body := n.Content
	if r := []rune(body); len(r) > maxNotificationBody {
		body = string(r[:maxNotificationBody-3]) + "..."
	}
	return title, body
}
