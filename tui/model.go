package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of the run.
type state int

const (
	stateInit       state = iota
	stateCalling          // calls in flight
	stateRefreshing       // shared refresh in flight
	stateSuccess          // batch finished
	stateExpired          // session torn down
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// maxStatusLines bounds the status log; older rows scroll off.
const maxStatusLines = 12

// Model is the BubbleTea model for the session client TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	baseURL  string
	method   string
	endpoint string

	// Batch progress
	total     int
	succeeded int
	failed    int
	started   time.Time
	elapsed   time.Duration

	expiredReason string
	errMsg        string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleSummaryBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.running() {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		m.baseURL = msg.BaseURL
		return m, nil

	case MsgTokensFound:
		m.addStatus(statusOK, "Found stored session ("+msg.Source+")")
		return m, nil

	case MsgTokensNotFound:
		m.addStatus(statusInfo, "No stored session ("+msg.Source+")")
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Tokens saved to "+msg.Source)
		return m, nil

	case MsgTokenSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save tokens: %v", msg.Err))
		return m, nil

	case MsgDispatching:
		m.total = msg.Count
		m.method = msg.Method
		m.endpoint = msg.Endpoint
		m.started = time.Now()
		m.state = stateCalling
		return m, tickAfterSecond()

	case MsgCallOK:
		m.succeeded++
		m.addStatus(statusOK, fmt.Sprintf("[%d] %d in %s", msg.ID, msg.Status, msg.Elapsed.Round(time.Millisecond)))
		return m, nil

	case MsgCallFailed:
		m.failed++
		m.addStatus(statusWarn, fmt.Sprintf("[%d] %v", msg.ID, msg.Err))
		return m, nil

	case MsgAccessTokenRejected:
		m.addStatus(statusWarn, "Access token rejected on "+msg.Endpoint)
		return m, nil

	case MsgRefreshing:
		if m.running() {
			m.state = stateRefreshing
		}
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		if m.state == stateRefreshing {
			m.state = stateCalling
		}
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshFailed:
		if m.state == stateRefreshing {
			m.state = stateCalling
		}
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRetrying:
		m.addStatus(statusInfo, "Retrying "+msg.Endpoint)
		return m, nil

	case MsgSessionExpired:
		m.expiredReason = msg.Reason
		m.addStatus(statusWarn, "Session expired")
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusOK, "Session cleared")
		return m, nil

	case MsgWhoAmI:
		m.addStatus(statusInfo, "Signed in as "+msg.UserID+" (unverified)")
		return m, nil

	case MsgDone:
		m.succeeded = msg.OK
		m.failed = msg.Failed
		m.elapsed = msg.Elapsed
		if m.expiredReason != "" {
			m.state = stateExpired
		} else {
			m.state = stateSuccess
		}
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

func (m Model) running() bool {
	return m.state == stateCalling || m.state == stateRefreshing
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSummary(styleOK.Render("  ✓ Done")))
	case stateExpired:
		return tea.NewView(m.viewSummary(styleErr.Render("  ✗ Session expired, please sign in again")))
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  ReferHub Session  "))
	b.WriteString("\n")
	if m.baseURL != "" {
		b.WriteString(styleDim.Render("  " + m.baseURL))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch m.state {
	case stateCalling:
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" %s %s  ", m.method, m.endpoint))
		b.WriteString(styleBold.Render(fmt.Sprintf("%d/%d", m.succeeded+m.failed, m.total)))
		b.WriteString(styleDim.Render("  " + formatDuration(m.elapsed) + " elapsed"))
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token, calls are waiting...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSummary(headline string) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(headline)
	b.WriteString("\n\n")

	if m.total > 0 {
		b.WriteString(styleSummaryBox.Render(
			fmt.Sprintf("  %d ok  ·  %d failed  ·  %s  ", m.succeeded, m.failed, formatDuration(m.elapsed)),
		))
		b.WriteString("\n")
	}
	if m.expiredReason != "" {
		b.WriteString(styleDim.Render("  " + m.expiredReason))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest rows past
// maxStatusLines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
