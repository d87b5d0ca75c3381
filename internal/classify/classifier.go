// Package classify provides pixel color classifiers: fixed rule predicates and
// replayed two-layer perceptrons, grouped into named palettes.
package classify

import (
	"errors"
	"fmt"
	"strings"

	"colorgrid/pkg/colorutil"
)

var (
	ErrMalformedParameters = errors.New("malformed perceptron parameters")
	ErrDivideByZero        = errors.New("zero scale component")
	ErrUnknownRule         = errors.New("unknown rule")
	ErrDuplicateColor      = errors.New("duplicate color id")
)

// Classifier scores a pixel's membership in one color class.
// Implementations return values in [0, 1] and must be safe for concurrent use.
type Classifier interface {
	Score(c colorutil.RGB) float64
}

// Rule is a fixed predicate classifier. Its score is 1 when the pixel matches
// and 0 otherwise.
type Rule string

const (
	RuleBlack Rule = "black"
	RuleWhite Rule = "white"
	RuleRed   Rule = "red"
	RuleGreen Rule = "green"
	RuleBlue  Rule = "blue"
)

// Predicate thresholds on 8-bit channels.
const (
	blackMax  = 30  // every channel below this is black
	whiteMin  = 220 // every channel above this is white
	minSpread = 50  // a hue needs at least this much channel spread
)

// Rules lists the built-in rules in their canonical palette order.
var Rules = []Rule{RuleRed, RuleGreen, RuleBlue, RuleBlack, RuleWhite}

// ParseRule returns the rule named by s (case-insensitive).
func ParseRule(s string) (Rule, error) {
	r := Rule(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Rules {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// Match reports whether the pixel satisfies the rule.
//
// The hue rules (red, green, blue) require the dominant channel to differ from
// a second channel, the pixel to be neither black nor white, and a channel
// spread above minSpread. Rules can overlap or leave a pixel unmatched.
func (r Rule) Match(c colorutil.RGB) bool {
	switch r {
	case RuleBlack:
		return isBlack(c)
	case RuleWhite:
		return isWhite(c)
	case RuleRed:
		return c.ArgMax() == 0 && c.R != c.G && isChromatic(c)
	case RuleGreen:
		return c.ArgMax() == 1 && c.R != c.G && isChromatic(c)
	case RuleBlue:
		return c.ArgMax() == 2 && c.R != c.B && isChromatic(c)
	}
	return false
}

// Score implements Classifier.
func (r Rule) Score(c colorutil.RGB) float64 {
	if r.Match(c) {
		return 1
	}
	return 0
}

func isBlack(c colorutil.RGB) bool {
	return c.Max() < blackMax
}

func isWhite(c colorutil.RGB) bool {
	return c.Min() > whiteMin
}

func isChromatic(c colorutil.RGB) bool {
	return !isBlack(c) && !isWhite(c) && c.Spread() > minSpread
}
