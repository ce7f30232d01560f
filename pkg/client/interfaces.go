package client

import (
	"github.com/aeolun/bgsclient/pkg/protocol"
)

// LineSource delivers complete lines of user input. ReadLine returns io.EOF
// when input ends. Implementations that also implement io.Closer are closed
// when the session ends so a blocked ReadLine returns.
type LineSource interface {
	ReadLine() (string, error)
}

// Printer receives one display line per call. It is called from both the
// sending and receiving goroutines and must be safe for concurrent use.
type Printer interface {
	Println(line string)
}

// Notifier surfaces server notifications outside the console.
type Notifier interface {
	Notify(n *protocol.NotificationMessage) error
}
