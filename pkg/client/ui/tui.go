package ui

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Keep at most this many lines of scrollback.
const maxScrollback = 2000

// printMsg appends one display line to the scrollback.
type printMsg string

// TUI is a full-screen front-end: scrollback on top, command prompt below.
// It serves as both the session's LineSource and its Printer.
type TUI struct {
	program *tea.Program
	lines   chan string
	done    chan struct{}

	closeOnce sync.Once
}

// NewTUI builds the program. Call Run on the main goroutine.
func NewTUI(title string, opts ...tea.ProgramOption) *TUI {
	t := &TUI{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	m := newTUIModel(title, t.lines, t.done)
	t.program = tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	return t
}

// Run blocks until the user quits or Close is called.
func (t *TUI) Run() error {
	_, err := t.program.Run()
	t.closeOnce.Do(func() { close(t.done) })
	return err
}

// ReadLine returns the next submitted line, or io.EOF once the view exits.
func (t *TUI) ReadLine() (string, error) {
	select {
	case line := <-t.lines:
		return line, nil
	case <-t.done:
		return "", io.EOF
	}
}

func (t *TUI) Println(line string) {
	t.program.Send(printMsg(line))
}

// Close quits the view and ends input.
func (t *TUI) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.program.Quit()
	return nil
}

type tuiModel struct {
	title    string
	viewport viewport.Model
	input    textinput.Model
	history  []string
	ready    bool

	submit chan<- string
	done   <-chan struct{}
}

func newTUIModel(title string, submit chan<- string, done <-chan struct{}) tuiModel {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "LOGIN <user> <password>, HELP"
	in.CharLimit = 1024
	in.Focus()

	return tuiModel{
		title:  title,
		input:  in,
		submit: submit,
		done:   done,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// title + input
		height := msg.Height - 2
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			m.appendLine(echoStyle.Render("> " + line))
			return m, m.send(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case printMsg:
		m.appendLine(styleLine(string(msg)))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// send hands line to ReadLine without blocking the event loop.
func (m tuiModel) send(line string) tea.Cmd {
	submit, done := m.submit, m.done
	return func() tea.Msg {
		select {
		case submit <- line:
		case <-done:
		}
		return nil
	}
}

func (m *tuiModel) appendLine(line string) {
	m.history = append(m.history, line)
	if len(m.history) > maxScrollback {
		m.history = m.history[len(m.history)-maxScrollback:]
	}
	m.refresh()
}

func (m *tuiModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m tuiModel) View() string {
	if !m.ready {
		return "Connecting..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(m.title),
		m.viewport.View(),
		m.input.View(),
	)
}
