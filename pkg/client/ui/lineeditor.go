package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

// EditorConfig configures the interactive prompt.
type EditorConfig struct {
	Prompt       string
	HistoryFile  string // empty disables history
	HistoryLimit int
}

type scannedLine struct {
	text string
	err  error
}

// LineEditor reads console input. On a terminal it uses readline with
// history; otherwise (pipes, scripts, INSIDE_EMACS) it scans plain lines
// without a prompt. Close always unblocks a pending ReadLine.
type LineEditor struct {
	interactive bool

	rl *readline.Instance

	// non-interactive mode
	in      io.Reader
	lines   chan scannedLine
	startMu sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// NewLineEditor reads from stdin, switching to interactive mode when stdin
// is a terminal.
func NewLineEditor(stdin *os.File, cfg EditorConfig) *LineEditor {
	isInteractive := term.IsTerminal(int(stdin.Fd())) &&
		os.Getenv("INSIDE_EMACS") == ""

	if !isInteractive {
		return newPlainEditor(stdin)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            cfg.HistoryFile,
		HistoryLimit:           cfg.HistoryLimit,
		DisableAutoSaveHistory: true,
		Prompt:                 cfg.Prompt,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return newPlainEditor(stdin)
	}

	return &LineEditor{
		interactive: true,
		rl:          rl,
		done:        make(chan struct{}),
	}
}

func newPlainEditor(r io.Reader) *LineEditor {
	return &LineEditor{
		in:    r,
		lines: make(chan scannedLine),
		done:  make(chan struct{}),
	}
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}

// Output returns the writer that display lines should go to. In interactive
// mode it redraws the prompt around asynchronous output.
func (le *LineEditor) Output(fallback io.Writer) io.Writer {
	if le.interactive {
		return le.rl
	}
	return fallback
}

// ReadLine returns the next line without its terminator, or io.EOF.
// Ctrl-C and Ctrl-D end input.
func (le *LineEditor) ReadLine() (string, error) {
	if le.interactive {
		return le.readInteractive()
	}
	return le.readPlain()
}

func (le *LineEditor) readInteractive() (string, error) {
	select {
	case <-le.done:
		return "", io.EOF
	default:
	}

	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		_ = le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *LineEditor) readPlain() (string, error) {
	le.startMu.Do(func() { go le.scan() })

	select {
	case l, ok := <-le.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	case <-le.done:
		return "", io.EOF
	}
}

// scan feeds lines to readPlain so that Close can abandon a blocked read.
func (le *LineEditor) scan() {
	defer close(le.lines)
	scanner := bufio.NewScanner(le.in)
	for scanner.Scan() {
		select {
		case le.lines <- scannedLine{text: scanner.Text()}:
		case <-le.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case le.lines <- scannedLine{err: err}:
		case <-le.done:
		}
	}
}

// Close ends input. Safe to call more than once.
func (le *LineEditor) Close() error {
	le.closeOnce.Do(func() {
		close(le.done)
		if le.rl != nil {
			le.rl.Close()
		}
	})
	return nil
}
