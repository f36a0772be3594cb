// Package display provides the terminal UI using Bubble Tea.
//
// The [UI] type keeps a playback status bar and an input prompt pinned to
// the bottom of the terminal. Application output goes above them through
// Program.Println and Printf, so concurrent writers never garble the
// screen.
package display

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Palette.
const (
	colBar    = lipgloss.Color("#27272a")
	colMuted  = lipgloss.Color("#71717a")
	colLabel  = lipgloss.Color("#a1a1aa")
	colValue  = lipgloss.Color("#d4d4d8")
	colSep    = lipgloss.Color("#52525b")
	colSlate  = lipgloss.Color("#94a3b8")
	colActive = lipgloss.Color("#fde68a")
	colHot    = lipgloss.Color("#fdba74")
	colAlert  = lipgloss.Color("#fca5a5")
)

// hotGainDB is the gain above which the bar highlights the gain field.
const hotGainDB = 6.0

var (
	barStyle      = lipgloss.NewStyle().Background(colBar).Foreground(colLabel)
	speakingStyle = lipgloss.NewStyle().Foreground(colActive)
	idleStyle     = lipgloss.NewStyle().Foreground(colMuted).Italic(true)
	labelStyle    = lipgloss.NewStyle().Foreground(colLabel)
	valueStyle    = lipgloss.NewStyle().Foreground(colValue)
	hotStyle      = lipgloss.NewStyle().Foreground(colHot).Bold(true)
	sepStyle      = lipgloss.NewStyle().Foreground(colSep)
	promptStyle   = lipgloss.NewStyle().Foreground(colSlate)
	mutedStyle    = lipgloss.NewStyle().Foreground(colMuted)
	alertStyle    = lipgloss.NewStyle().Foreground(colAlert)
	echoStyle     = lipgloss.NewStyle().Foreground(colLabel)

	// BannerStyle renders the startup banner.
	BannerStyle = lipgloss.NewStyle().Foreground(colSlate)
)

// Prompt is the input prompt. Plain text so the textinput width math
// stays correct.
const Prompt = "ttsplay> "

// Status is what the status bar shows.
type Status struct {
	Engine    string
	Speaking  bool
	PlayingID string
	GainDB    float64
	Focus     string
	Queue     int
}

// StatusFunc reports the current playback status. Called once per tick
// from the Bubble Tea goroutine.
type StatusFunc func() Status

// UI owns the terminal while the prompt is open.
//
// Call [NewUI] then [UI.Run] (blocking). Other goroutines may call the
// print methods at any time and read typed lines from [UI.InputChan]
// once [UI.WaitReady] returns true.
type UI struct {
	program *tea.Program
	inputCh chan string
	readyCh chan struct{}
	quitCh  chan struct{}
	status  StatusFunc
	done    atomic.Bool
}

// NewUI creates the display. Call Run() to start.
func NewUI(status StatusFunc) *UI {
	return &UI{
		status:  status,
		inputCh: make(chan string, 16),
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// SetStatus replaces the status source. Call before Run.
func (u *UI) SetStatus(status StatusFunc) { u.status = status }

func (u *UI) live() bool { return u.program != nil && !u.done.Load() }

// Println prints a line above the prompt, or to stdout when the program
// is not running.
func (u *UI) Println(a ...interface{}) {
	if u.live() {
		u.program.Println(a...)
		return
	}
	fmt.Println(a...)
}

// Printf prints formatted text above the prompt on its own line.
func (u *UI) Printf(format string, a ...interface{}) {
	if u.live() {
		u.program.Printf(format, a...)
		return
	}
	fmt.Printf(format+"\n", a...)
}

// InputChan returns completed input lines.
func (u *UI) InputChan() <-chan string { return u.inputCh }

// PrintHint prints a dimmed line.
func (u *UI) PrintHint(text string) { u.Println(mutedStyle.Render("  " + text)) }

// PrintUrgent prints an error line.
func (u *UI) PrintUrgent(text string) { u.Println(alertStyle.Render("  " + text)) }

// PrintUserInput echoes a submitted line into the scrollback.
func (u *UI) PrintUserInput(text string) {
	u.Println(promptStyle.Render(Prompt) + echoStyle.Render(text))
}

// WaitReady blocks until the Bubble Tea event loop is running. It reports
// false if ctx ends or the program exits first.
func (u *UI) WaitReady(ctx context.Context) bool {
	select {
	case <-u.readyCh:
		return true
	case <-u.quitCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Quit tells Bubble Tea to exit.
func (u *UI) Quit() {
	if u.program != nil {
		u.program.Quit()
	}
}

// QuitChan is closed when Run returns.
func (u *UI) QuitChan() <-chan struct{} { return u.quitCh }

// Run starts the event loop and blocks until quit.
func (u *UI) Run() error {
	u.program = tea.NewProgram(newModel(u.status, u.inputCh, u.readyCh, u.PrintUserInput))
	_, err := u.program.Run()
	u.done.Store(true)
	close(u.quitCh)
	return err
}

// ── model ────────────────────────────────────────────────────────

type tickMsg time.Time

// tickEvery is how often the status bar is refreshed.
const tickEvery = 250 * time.Millisecond

// maxRecall bounds the submitted lines kept for Up/Down recall.
const maxRecall = 50

type model struct {
	statusFn StatusFunc
	input    textinput.Model
	spin     spinner.Model
	inputCh  chan<- string
	readyCh  chan struct{}
	echoFn   func(string)
	status   Status
	width    int

	recall []string
	cursor int // index into recall; len(recall) means a fresh line
}

func newModel(status StatusFunc, inputCh chan<- string, readyCh chan struct{}, echo func(string)) model {
	ti := textinput.New()
	ti.Prompt = Prompt
	ti.PromptStyle = promptStyle
	ti.TextStyle = echoStyle
	ti.Cursor.Style = promptStyle
	ti.Placeholder = "type text to speak, /help for commands"
	ti.PlaceholderStyle = mutedStyle
	ti.CharLimit = 2000
	ti.Width = 60 // updated on the first WindowSizeMsg
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = speakingStyle

	m := model{
		statusFn: status,
		input:    ti,
		spin:     sp,
		inputCh:  inputCh,
		readyCh:  readyCh,
		echoFn:   echo,
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spin.Tick, tickCmd()}
	if m.readyCh != nil {
		ch := m.readyCh
		cmds = append(cmds, func() tea.Msg {
			close(ch)
			return nil
		})
	}
	return tea.Batch(cmds...)
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyUp:
			m.step(-1)
			return m, nil
		case tea.KeyDown:
			m.step(1)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if n := len(Prompt); msg.Width > n {
			m.input.Width = msg.Width - n
		}
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tea.Batch(tickCmd(), tea.SetWindowTitle(m.titleStr()))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the current line. The echo runs as a Cmd so Update never
// blocks on the program's message queue.
func (m model) submit() (tea.Model, tea.Cmd) {
	v := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(v) == "" {
		return m, nil
	}
	if n := len(m.recall); n == 0 || m.recall[n-1] != v {
		m.recall = append(m.recall, v)
		if len(m.recall) > maxRecall {
			m.recall = m.recall[len(m.recall)-maxRecall:]
		}
	}
	m.cursor = len(m.recall)
	m.inputCh <- v

	echo := m.echoFn
	return m, func() tea.Msg {
		if echo != nil {
			echo(v)
		}
		return nil
	}
}

// step moves through previously submitted lines.
func (m *model) step(delta int) {
	if len(m.recall) == 0 {
		return
	}
	m.cursor = min(max(m.cursor+delta, 0), len(m.recall))
	if m.cursor == len(m.recall) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.recall[m.cursor])
	m.input.CursorEnd()
}

func (m *model) refresh() {
	if m.statusFn != nil {
		m.status = m.statusFn()
	}
}

func (m model) titleStr() string {
	if m.status.Speaking {
		return "ttsplay: speaking " + m.status.PlayingID
	}
	return "ttsplay"
}

func (m model) View() string {
	return m.renderBar() + "\n\n" + m.input.View()
}

func (m model) renderBar() string {
	st := m.status
	state := idleStyle.Render("idle")
	if st.Speaking {
		state = m.spin.View() + " " + speakingStyle.Render("speaking "+st.PlayingID)
	}

	gainValue := valueStyle.Render(fmt.Sprintf("%+.2f dB", st.GainDB))
	if st.GainDB >= hotGainDB {
		gainValue = hotStyle.Render(fmt.Sprintf("%+.2f dB", st.GainDB))
	}

	parts := []string{
		field("engine", st.Engine),
		state,
		labelStyle.Render("gain: ") + gainValue,
		field("focus", st.Focus),
		field("queue", fmt.Sprint(st.Queue)),
	}
	w := m.width
	if w <= 0 {
		w = 80
	}
	return barStyle.Width(w).Render(" " + strings.Join(parts, sepStyle.Render("  │  ")) + " ")
}

func field(label, value string) string {
	if value == "" {
		value = "-"
	}
	return labelStyle.Render(label+": ") + valueStyle.Render(value)
}
