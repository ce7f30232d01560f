package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// Journey tests leave peer goroutines draining after each test returns, so
// the package loggers are silenced once up front instead of per test.
func TestMain(m *testing.M) {
	quiet := func(prefix string) *log.Logger {
		return log.New(io.Discard, prefix, log.LstdFlags)
	}
	errorLog = quiet("ERROR: ")
	debugLog = quiet("DEBUG: ")
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
