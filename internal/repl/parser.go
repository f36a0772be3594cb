// Package repl parses prompt input into commands and prints playback
// notifications for the interactive prompt.
package repl

import (
	"regexp"
	"strings"

	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// Parser matches prompt input to commands using simple patterns. Input
// that does not start with a slash is text to speak.
type Parser struct {
	log      *logger.Logger
	patterns []patternRule
}

type patternRule struct {
	regex *regexp.Regexp
	typ   Type
}

// NewParser creates a command parser.
func NewParser(log *logger.Logger) *Parser {
	p := &Parser{log: log}
	// The first capture group, when present, is the argument.
	p.patterns = []patternRule{
		{regexp.MustCompile(`(?i)^/(?:stop|s|shh)$`), Stop},
		{regexp.MustCompile(`(?i)^/(?:engines?|e)(?:\s+(\S+))?$`), Engine},
		{regexp.MustCompile(`(?i)^/(?:voices?|v)(?:\s+(\S+))?$`), Voice},
		{regexp.MustCompile(`(?i)^/duck(?:\s+(on|off))?$`), Duck},
		{regexp.MustCompile(`(?i)^/focus(?:\s+(on|off))?$`), Focus},
		{regexp.MustCompile(`(?i)^/(?:gain|g)$`), Gain},
		{regexp.MustCompile(`(?i)^/(?:history|hist)(?:\s+(\d+))?$`), History},
		{regexp.MustCompile(`(?i)^/(?:repeat|again|r)(?:\s+(-?\d+))?$`), Repeat},
		{regexp.MustCompile(`(?i)^/hash\s+(.+)$`), Hash},
		{regexp.MustCompile(`(?i)^/preempt(?:\s+(loss|transient|duck))?$`), Preempt},
		{regexp.MustCompile(`(?i)^/music(?:\s+(on|off))?$`), Music},
		{regexp.MustCompile(`(?i)^/block(?:\s+(failed|delayed|off))?$`), Block},
		{regexp.MustCompile(`(?i)^/(?:status|st|info)$`), Status},
		{regexp.MustCompile(`(?i)^/(?:help|h|\?)$`), Help},
		{regexp.MustCompile(`(?i)^/(?:quit|exit|q)$`), Quit},
	}
	return p
}

// Parse converts one line of input into a command.
func (p *Parser) Parse(input string) Command {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Command{Type: Unknown}
	}

	if !strings.HasPrefix(trimmed, "/") {
		return Command{Type: Say, Arg: trimmed}
	}

	p.log.Debug("parsing command: %q", trimmed)
	for _, rule := range p.patterns {
		m := rule.regex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		p.log.Debug("matched command: %s", rule.typ)
		var arg string
		if len(m) > 1 {
			arg = strings.TrimSpace(m[1])
		}
		switch rule.typ {
		case Engine, Duck, Focus, Preempt, Music, Block:
			arg = strings.ToLower(arg)
		}
		return Command{Type: rule.typ, Arg: arg}
	}

	p.log.Debug("no match, returning unknown command")
	return Command{Type: Unknown, Arg: trimmed}
}
