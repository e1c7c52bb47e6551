package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bookchat/internal/chat"
	"bookchat/internal/config"
	"bookchat/internal/models"
	"bookchat/internal/session"
)

// ChatPort is the part of the chat service the terminal UI needs.
type ChatPort interface {
	Login(ctx context.Context, email string) (*session.Session, error)
	Submit(ctx context.Context, sess *session.Session, bookKey, question string) (*models.Turn, error)
	Books() []config.BookConfig
}

type answerMsg struct {
	sess *session.Session
	turn *models.Turn
	err  error
}

// Model is the Bubble Tea model for the terminal chat.
type Model struct {
	service  ChatPort
	title    string
	input    textinput.Model
	viewport viewport.Model
	sess     *session.Session
	books    []config.BookConfig
	book     int
	status   string
	busy     bool
	ready    bool
}

func New(service ChatPort, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Email"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		service:  service,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		books:    service.Books(),
		status:   "Log in with your email.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, hh := historyBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 3 + ih + 1 // header, book line, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-hh)
		m.viewport.SetContent(m.renderHistory())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.sess != nil {
			m.sess = msg.sess
		}
		m.status = statusFor(msg.turn, msg.err)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			if m.sess != nil && len(m.books) > 0 {
				m.book = (m.book + 1) % len(m.books)
				return m, nil
			}
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if m.sess == nil {
				return m.login(value), nil
			}
			if value == "" || m.busy {
				return m, nil
			}
			return m.ask(value)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) login(email string) Model {
	sess, err := m.service.Login(context.Background(), email)
	if err != nil {
		m.status = models.InvalidEmailMessage
		return m
	}
	m.sess = sess
	m.input.Reset()
	m.input.Placeholder = "Ask a question (Tab switches book)"
	m.status = fmt.Sprintf("Logged in as %s.", sess.Email)
	return m
}

func (m Model) ask(question string) (Model, tea.Cmd) {
	if len(m.books) == 0 {
		m.status = models.NoBookSelectedMessage
		return m, nil
	}
	m.busy = true
	m.status = "Generating response..."
	m.input.Reset()

	// The command works on its own copy; Update swaps it in when done.
	sess := m.sess.Clone()
	bookKey := m.books[m.book].Key
	service := m.service
	return m, func() tea.Msg {
		turn, err := service.Submit(context.Background(), sess, bookKey, question)
		return answerMsg{sess: sess, turn: turn, err: err}
	}
}

func statusFor(turn *models.Turn, err error) string {
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		return models.QuotaExceededMessage
	case errors.Is(err, models.ErrBusy):
		return models.BusyMessage
	case errors.Is(err, models.ErrNoBookSelected):
		return models.NoBookSelectedMessage
	case err != nil:
		return "Error: " + err.Error()
	case turn != nil && turn.Failed:
		return "The last question failed."
	default:
		return "Done."
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	bookLine := mutedStyle.Render("Not logged in")
	if m.sess != nil && len(m.books) > 0 {
		bookLine = mutedStyle.Render(fmt.Sprintf("Chat with %s  (%d/%d)", m.books[m.book].Title, m.book+1, len(m.books)))
	}
	history := historyBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + bookLine + "\n" + history + "\n" + input + "\n" + status
}

func (m Model) renderHistory() string {
	if m.sess == nil || len(m.sess.History) == 0 {
		return "Hello, how can I help you?"
	}
	var b strings.Builder
	for i, t := range m.sess.History {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("> " + t.Question))
		b.WriteString("\n\n")
		b.WriteString(chat.CleanText(t.Answer))
		if t.PageNumber > 0 {
			fmt.Fprintf(&b, "\nBook: %s, Page Number - %d", t.Book, t.PageNumber)
		}
		for _, bk := range m.books {
			if bk.Key == t.BookKey && bk.Link != "" && !t.Failed {
				b.WriteString("\nFor more details, please visit: " + bk.Link)
			}
		}
		if len(t.Suggestions) > 0 {
			b.WriteString("\n" + mutedStyle.Render("Explore similar questions:"))
			for _, s := range t.Suggestions {
				b.WriteString("\n  - " + s)
			}
		}
	}
	return b.String()
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)
