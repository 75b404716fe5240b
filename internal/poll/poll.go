// Package poll turns "!vote a, b, c" commands into numbered poll messages.
package poll

import (
	"errors"
	"fmt"
	"strings"
)

// Trigger is the command that starts a poll
const Trigger = "!vote"

// Header is the first line of every poll message
const Header = "📊 投票してください！"

// MaxOptions is the number of options a single poll can carry
const MaxOptions = 10

// Emojis holds the reaction names, index-aligned with poll options
var Emojis = [MaxOptions]string{
	"one", "two", "three", "four", "five",
	"six", "seven", "eight", "nine", "keycap_ten",
}

// ErrNoOptions is returned when the command carries no usable option
var ErrNoOptions = errors.New("poll: no options")

// TooManyOptionsError is returned when the command carries more than MaxOptions options
type TooManyOptionsError struct {
	Count int
}

func (e *TooManyOptionsError) Error() string {
	return fmt.Sprintf("poll: too many options (%d > %d)", e.Count, MaxOptions)
}

// HasTrigger reports whether text contains the poll command
func HasTrigger(text string) bool {
	return strings.Contains(text, Trigger)
}

// ParseOptions extracts options from everything after the first trigger.
// Options are split on commas, trimmed and empty entries are dropped; order is kept.
func ParseOptions(text string) []string {
	_, rest, found := strings.Cut(text, Trigger)
	if !found {
		return nil
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return nil
	}

	parts := strings.Split(rest, ",")
	options := make([]string, 0, len(parts))
	for _, part := range parts {
		if opt := strings.TrimSpace(part); opt != "" {
			options = append(options, opt)
		}
	}
	return options
}

// Validate checks the option count
func Validate(options []string) error {
	switch {
	case len(options) == 0:
		return ErrNoOptions
	case len(options) > MaxOptions:
		return &TooManyOptionsError{Count: len(options)}
	}
	return nil
}

// EmojiCode returns the ":name:" form of the emoji for option i
func EmojiCode(i int) string {
	return ":" + ReactionName(i) + ":"
}

// ReactionName returns the reaction name for option i.
// Callers must Validate first; i outside the table panics.
func ReactionName(i int) string {
	return Emojis[i]
}

// BuildMessage renders the poll text: the header followed by one "<emoji> <option>" line per option
func BuildMessage(options []string) (string, error) {
	if err := Validate(options); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteString("\n")
	for i, opt := range options {
		sb.WriteString(EmojiCode(i))
		sb.WriteString(" ")
		sb.WriteString(opt)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
