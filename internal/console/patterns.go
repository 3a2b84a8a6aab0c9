package console

import (
	"fmt"
	"regexp"
)

// Action is what a matching console line means.
type Action string

const (
	ActionPlayerJoined    Action = "player_joined"
	ActionPlayerLeft      Action = "player_left"
	ActionStartupComplete Action = "startup_complete"
)

// PatternConfig is one tagged pattern. For player actions the player name is
// the "player" named group, or the first group when unnamed.
type PatternConfig struct {
	Action Action `mapstructure:"action" json:"action"`
	Regex  string `mapstructure:"regex" json:"regex"`
}

// DefaultPatterns recognises vanilla/Forge/Paper console lines.
func DefaultPatterns() []PatternConfig {
	return []PatternConfig{
		{Action: ActionPlayerJoined, Regex: `(?P<player>[A-Za-z0-9_]{1,16}) joined the game`},
		{Action: ActionPlayerLeft, Regex: `(?P<player>[A-Za-z0-9_]{1,16}) left the game`},
		{Action: ActionStartupComplete, Regex: `Done`},
		{Action: ActionStartupComplete, Regex: `loaded`},
	}
}

// Match is the classification of a single line.
type Match struct {
	Action Action
	Player string
}

type compiled struct {
	action Action
	re     *regexp.Regexp
	group  int
}

// Classifier checks lines against an ordered pattern list; first match wins.
type Classifier struct {
	patterns []compiled
}

// NewClassifier compiles cfg in order. An empty cfg uses DefaultPatterns.
func NewClassifier(cfg []PatternConfig) (*Classifier, error) {
	if len(cfg) == 0 {
		cfg = DefaultPatterns()
	}
	c := &Classifier{patterns: make([]compiled, 0, len(cfg))}
	for i, p := range cfg {
		switch p.Action {
		case ActionPlayerJoined, ActionPlayerLeft, ActionStartupComplete:
		default:
			return nil, fmt.Errorf("pattern %d: unknown action %q", i, p.Action)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.Action, err)
		}
		cp := compiled{action: p.Action, re: re}
		if p.Action != ActionStartupComplete {
			if re.NumSubexp() == 0 {
				return nil, fmt.Errorf("pattern %d (%s): needs a capture group for the player name", i, p.Action)
			}
			cp.group = 1
			if idx := re.SubexpIndex("player"); idx > 0 {
				cp.group = idx
			}
		}
		c.patterns = append(c.patterns, cp)
	}
	return c, nil
}

// MustClassifier is NewClassifier for patterns known to be valid.
func MustClassifier(cfg []PatternConfig) *Classifier {
	c, err := NewClassifier(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the first matching pattern's action.
func (c *Classifier) Classify(line string) (Match, bool) {
	for _, p := range c.patterns {
		if p.group == 0 {
			if p.re.MatchString(line) {
				return Match{Action: p.action}, true
			}
			continue
		}
		if m := p.re.FindStringSubmatch(line); m != nil {
			return Match{Action: p.action, Player: m[p.group]}, true
		}
	}
	return Match{}, false
}
