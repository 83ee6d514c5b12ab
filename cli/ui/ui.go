// Package ui provides the interactive terminal components of the tempo CLI:
// a spinner for blocking steps and a progress bar for read-model rebuilds.
// Both only run on a terminal; callers print plain lines otherwise.
package ui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tempohq/tempo/cli/styles"
)

// ErrCancelled is returned when the user quits a running component.
var ErrCancelled = errors.New("ui: cancelled")

// Interactive reports whether w is a terminal.
func Interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func isQuitKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

// =============================================================================
// Spinner
// =============================================================================

// SpinnerModel shows a spinner next to a message until a DoneMsg arrives.
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = styles.InfoStyle
	return SpinnerModel{spinner: s, message: message}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if isQuitKey(msg) {
			m.quitting = true
			return m, tea.Quit
		}

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	switch {
	case m.done && m.err != nil:
		return styles.FormatError(m.err.Error()) + "\n"
	case m.done:
		return styles.FormatSuccess(m.result) + "\n"
	case m.quitting:
		return styles.FormatWarning("Cancelled") + "\n"
	}
	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// DoneMsg ends a spinner or progress bar.
type DoneMsg struct {
	Result string
	Err    error
}

// RunSpinner runs fn while a spinner shows message on out, then replaces the
// spinner with fn's result line. It returns fn's error.
func RunSpinner(out io.Writer, message string, fn func() (string, error)) error {
	p := tea.NewProgram(NewSpinner(message), tea.WithOutput(out), tea.WithInput(nil))

	errc := make(chan error, 1)
	go func() {
		result, err := fn()
		errc <- err
		p.Send(DoneMsg{Result: result, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if final.(SpinnerModel).quitting {
		return ErrCancelled
	}
	return <-errc
}

// =============================================================================
// Progress
// =============================================================================

// ProgressModel is a progress bar with a status line.
type ProgressModel struct {
	progress progress.Model
	percent  float64
	message  string
	quitting bool
	done     bool
	err      error
}

// ProgressMsg moves the progress bar.
type ProgressMsg struct {
	Percent float64
	Message string
}

// NewProgress creates a progress bar starting at zero.
func NewProgress(message string) ProgressModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return ProgressModel{progress: p, message: message}
}

func (m ProgressModel) Init() tea.Cmd {
	return nil
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if isQuitKey(msg) {
			m.quitting = true
			return m, tea.Quit
		}

	case ProgressMsg:
		m.percent = clamp(msg.Percent)
		if msg.Message != "" {
			m.message = msg.Message
		}
		return m, nil

	case DoneMsg:
		m.done = true
		m.percent = 1
		m.message = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m ProgressModel) View() string {
	switch {
	case m.done && m.err != nil:
		return styles.FormatError(m.err.Error()) + "\n"
	case m.done:
		return styles.FormatSuccess(m.message) + "\n"
	case m.quitting:
		return styles.FormatWarning("Cancelled") + "\n"
	}
	return m.progress.ViewAs(m.percent) + " " + styles.Muted.Render(m.message) + "\n"
}

// RunProgress draws a progress bar on out fed by updates. The bar finishes
// when updates is closed; wait is then called for the final line and error.
func RunProgress(out io.Writer, message string, updates <-chan ProgressMsg, wait func() (string, error)) error {
	p := tea.NewProgram(NewProgress(message), tea.WithOutput(out), tea.WithInput(nil))

	errc := make(chan error, 1)
	go func() {
		for u := range updates {
			p.Send(u)
		}
		result, err := wait()
		errc <- err
		p.Send(DoneMsg{Result: result, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if final.(ProgressModel).quitting {
		return ErrCancelled
	}
	return <-errc
}

// Percent converts a processed/total pair into a bar position.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 1
	}
	return clamp(float64(processed) / float64(total))
}

// StepMessage is the status line for one step of a counted job.
func StepMessage(label string, processed, total int) string {
	return fmt.Sprintf("%s %d/%d", label, processed, total)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
