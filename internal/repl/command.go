package repl

// Type classifies one line of prompt input.
type Type int

const (
	Unknown Type = iota
	Say          // plain text to speak
	Stop
	Engine  // list engines, or switch to Arg
	Voice   // list voices, or select Arg
	Duck    // toggle ducking: Arg is on or off
	Focus   // toggle audio focus management: Arg is on or off
	Gain    // show the adaptive gain
	History // show the last Arg utterances
	Repeat  // speak the last utterance again, or the one with id Arg
	Hash    // print the utterance id of Arg
	Preempt // simulate other audio taking focus; Arg is the loss kind
	Music   // simulate other audio playing: Arg is on or off
	Block   // make focus requests fail or be delayed; Arg is failed, delayed or off
	Status
	Help
	Quit
)

// String returns a human-readable command type.
func (t Type) String() string {
	switch t {
	case Say:
		return "say"
	case Stop:
		return "stop"
	case Engine:
		return "engine"
	case Voice:
		return "voice"
	case Duck:
		return "duck"
	case Focus:
		return "focus"
	case Gain:
		return "gain"
	case History:
		return "history"
	case Repeat:
		return "repeat"
	case Hash:
		return "hash"
	case Preempt:
		return "preempt"
	case Music:
		return "music"
	case Block:
		return "block"
	case Status:
		return "status"
	case Help:
		return "help"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is one parsed line.
type Command struct {
	Type Type
	Arg  string
}

// Usage is the help text for the prompt commands.
const Usage = `Type text to speak it. Commands:
  /stop                      interrupt the current utterance
  /engine [name]             list engines or switch engine
  /voice [id]                list voices or select one
  /duck on|off               let other audio keep playing ducked
  /focus on|off              turn audio focus management on or off
  /gain                      show the adaptive gain
  /history [n]               show recent utterances
  /repeat [id]               speak the last (or a past) utterance again
  /hash text                 print the utterance id for text
  /preempt [loss|transient|duck]  simulate other audio taking focus
  /music on|off              simulate other audio playing
  /block failed|delayed|off  make focus requests fail
  /status                    show the playback state
  /help                      show this help
  /quit                      exit`
