// Package tui provides the Bubble Tea bug-report form.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	// Field label
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	// Active field label
	activeLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("86")).
				Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Fields ────────────

type fieldID int

const (
	fieldComment fieldID = iota
	fieldEmail
	fieldTags
	fieldCount
)

var fieldNames = [fieldCount]string{"Comment", "Email", "Tags"}

// ReportInput is what the form collects.
type ReportInput struct {
	Comment string
	Email   string
	Tags    []string
}

// ── Model ────────────

// Model is the root Bubble Tea model for the report form.
type Model struct {
	comment textarea.Model
	email   textinput.Model
	tags    textinput.Model

	active    fieldID
	width     int
	submitted bool
	cancelled bool
	errMsg    string
}

// New creates a report form prefilled with defaults (typically from the
// user's profile).
func New(defaults ReportInput) Model {
	comment := textarea.New()
	comment.Placeholder = "What went wrong? What did you expect?"
	comment.SetValue(defaults.Comment)
	comment.CharLimit = 2000
	comment.SetHeight(6)
	comment.Focus()

	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.SetValue(defaults.Email)
	email.CharLimit = 254

	tags := textinput.New()
	tags.Placeholder = "crash, login, flaky"
	tags.SetValue(strings.Join(defaults.Tags, ", "))
	tags.CharLimit = 200

	return Model{comment: comment, email: email, tags: tags}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return textarea.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "tab", "shift+tab":
			if msg.String() == "tab" {
				m.active = (m.active + 1) % fieldCount
			} else {
				m.active = (m.active - 1 + fieldCount) % fieldCount
			}
			m.focusActive()
			return m, nil
		case "ctrl+s", "ctrl+d":
			if strings.TrimSpace(m.comment.Value()) == "" {
				m.errMsg = "a comment is required"
				return m, nil
			}
			m.submitted = true
			return m, tea.Quit
		}
		m.errMsg = ""

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.comment.SetWidth(msg.Width - 6)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.active {
	case fieldComment:
		m.comment, cmd = m.comment.Update(msg)
	case fieldEmail:
		m.email, cmd = m.email.Update(msg)
	case fieldTags:
		m.tags, cmd = m.tags.Update(msg)
	}
	return m, cmd
}

func (m *Model) focusActive() {
	m.comment.Blur()
	m.email.Blur()
	m.tags.Blur()
	switch m.active {
	case fieldComment:
		m.comment.Focus()
	case fieldEmail:
		m.email.Focus()
	case fieldTags:
		m.tags.Focus()
	}
}

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 72
	}

	title := titleStyle.Width(width).Render("  bugrelay  report a problem")

	label := func(f fieldID) string {
		name := "  " + fieldNames[f]
		if f == m.active {
			return activeLabelStyle.Render(name + " ▸")
		}
		return labelStyle.Render(name)
	}

	var sb strings.Builder
	sb.WriteString(title + "\n\n")
	sb.WriteString(label(fieldComment) + "\n")
	sb.WriteString(m.comment.View() + "\n\n")
	sb.WriteString(label(fieldEmail) + "\n  " + m.email.View() + "\n\n")
	sb.WriteString(label(fieldTags) + "\n  " + m.tags.View() + "\n\n")

	if m.errMsg != "" {
		sb.WriteString(errorStyle.Render("  ✗ "+m.errMsg) + "\n")
	} else {
		sb.WriteString(dimStyle.Render("  The pending event trail is attached automatically.") + "\n")
	}

	hint := "  tab next field  ctrl+s submit  esc cancel"
	sb.WriteString("\n" + statusBarStyle.Width(width).Render(hintStyle.Render(hint)))
	return sb.String()
}

// Input returns the collected values.
func (m Model) Input() ReportInput {
	var tags []string
	for _, t := range strings.Split(m.tags.Value(), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return ReportInput{
		Comment: strings.TrimSpace(m.comment.Value()),
		Email:   strings.TrimSpace(m.email.Value()),
		Tags:    tags,
	}
}

// Run shows the form and blocks until submit or cancel. ok is false when the
// user cancelled.
func Run(defaults ReportInput) (input ReportInput, ok bool, err error) {
	p := tea.NewProgram(New(defaults), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return ReportInput{}, false, err
	}
	m := final.(Model)
	if !m.submitted {
		return ReportInput{}, false, nil
	}
	return m.Input(), true, nil
}
