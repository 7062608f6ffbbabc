package rules

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// MessageLengthRule buckets requests by the length of their user messages,
// counted in characters.
type MessageLengthRule struct {
	named
	shortThreshold int
	longThreshold  int
	short          router.Target
	medium         router.Target
	long           router.Target
}

// NewMessageLengthRule creates a rule choosing short below shortThreshold,
// medium below longThreshold and long otherwise.
func NewMessageLengthRule(name string, shortThreshold, longThreshold int, short, medium, long router.Target) (*MessageLengthRule, error) {
	n, err := newNamed(TypeMessageLength, name)
	if err != nil {
		return nil, err
	}
	if shortThreshold < 0 || longThreshold < 0 {
		return nil, fmt.Errorf("%s %s: thresholds must be non-negative", TypeMessageLength, name)
	}
	if shortThreshold >= longThreshold {
		return nil, fmt.Errorf("%s %s: short threshold must be less than long threshold", TypeMessageLength, name)
	}
	return &MessageLengthRule{
		named:          n,
		shortThreshold: shortThreshold,
		longThreshold:  longThreshold,
		short:          short,
		medium:         medium,
		long:           long,
	}, nil
}

func (r *MessageLengthRule) Type() string { return TypeMessageLength }

// Thresholds returns the short and long thresholds.
func (r *MessageLengthRule) Thresholds() (short, long int) {
	return r.shortThreshold, r.longThreshold
}

func (r *MessageLengthRule) Evaluate(_ context.Context, req *schema.Request) (router.Decision, error) {
	n := utf8.RuneCountInString(req.UserText())
	switch {
	case n < r.shortThreshold:
		return r.short.Decide(fmt.Sprintf("short_message_%d_chars", n)), nil
	case n < r.longThreshold:
		return r.medium.Decide(fmt.Sprintf("medium_message_%d_chars", n)), nil
	default:
		return r.long.Decide(fmt.Sprintf("long_message_%d_chars", n)), nil
	}
}
