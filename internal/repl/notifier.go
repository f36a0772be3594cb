package repl

import (
	"fmt"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

// PrintFunc is a function used to print formatted output.
// Matches the signature of both fmt.Printf and display.UI.Printf.
type PrintFunc func(format string, a ...interface{})

// Notifier prints playback notifications with ANSI formatting. Its Event
// method is meant to be installed as the speaker's event sink.
type Notifier struct {
	log      *logger.Logger
	printFn  PrintFunc
	progress bool

	mu    sync.Mutex
	texts map[string]string // utterance id -> text, for progress words
}

// NewNotifier creates a notifier. If printFn is nil, fmt.Printf is used.
// With progress set, every word boundary reported by the engine is printed.
func NewNotifier(log *logger.Logger, printFn PrintFunc, progress bool) *Notifier {
	if printFn == nil {
		printFn = func(format string, a ...interface{}) {
			fmt.Printf(format+"\n", a...)
		}
	}
	return &Notifier{
		log:      log,
		printFn:  printFn,
		progress: progress,
		texts:    make(map[string]string),
	}
}

// Notify prints a normal notification.
func (n *Notifier) Notify(message string) {
	n.log.Debug("notify: %s", message)
	n.printFn("%s%s%s%s", cyan, bold, message, reset)
}

// NotifyUrgent prints an urgent notification in bold red.
func (n *Notifier) NotifyUrgent(message string) {
	n.log.Debug("notify-urgent: %s", message)
	n.printFn("%s%s%s%s", red, bold, message, reset)
}

// Hint prints a dimmed line.
func (n *Notifier) Hint(message string) {
	n.printFn("%s%s%s", dim, message, reset)
}

// Expect registers the text of an utterance about to be spoken so
// progress events can show the current word.
func (n *Notifier) Expect(id, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts[id] = text
}

// Event prints one engine event.
func (n *Notifier) Event(ev domain.Event) {
	switch ev.Kind {
	case domain.EventBeginSynthesis:
		n.log.Debug("notify: %s begin (rate=%d, encoding=%s, channels=%d)", ev.UtteranceID, ev.SampleRate, ev.Encoding, ev.Channels)
	case domain.EventStart:
		n.printFn("%s> speaking %s%s", dim, ev.UtteranceID, reset)
	case domain.EventRange:
		if !n.progress {
			return
		}
		n.printFn("%s  %s%s", yellow, n.word(ev), reset)
	case domain.EventDone:
		n.forget(ev.UtteranceID)
		n.printFn("%s%s done%s", green, ev.UtteranceID, reset)
	case domain.EventError:
		n.forget(ev.UtteranceID)
		n.printFn("%s%s%s failed: %v%s", red, bold, ev.UtteranceID, ev.Err, reset)
	case domain.EventStop:
		n.forget(ev.UtteranceID)
		n.printFn("%s%s stopped%s", yellow, ev.UtteranceID, reset)
	}
}

func (n *Notifier) word(ev domain.Event) string {
	n.mu.Lock()
	text, ok := n.texts[ev.UtteranceID]
	n.mu.Unlock()
	if !ok || ev.Start < 0 || ev.End > len(text) || ev.Start >= ev.End {
		return fmt.Sprintf("[%d:%d]", ev.Start, ev.End)
	}
	return text[ev.Start:ev.End]
}

func (n *Notifier) forget(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.texts, id)
}
