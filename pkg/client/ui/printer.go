package ui

import (
	"io"
	"sync"
)

// ConsolePrinter writes one line per call, optionally styled. It is safe for
// concurrent use by the sender and receiver goroutines.
type ConsolePrinter struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsolePrinter writes to w. Pass color only when w is a terminal.
func NewConsolePrinter(w io.Writer, color bool) *ConsolePrinter {
	return &ConsolePrinter{w: w, color: color}
}

func (p *ConsolePrinter) Println(line string) {
	if p.color {
		line = styleLine(line)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, line+"\n")
}
