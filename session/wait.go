package session

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// DefaultPollInterval is the cadence Poll falls back to.
const DefaultPollInterval = 50 * time.Millisecond

// Condition reports whether screen content satisfies some expectation.
type Condition func(content string) bool

// Contains is satisfied when content contains substr.
func Contains(substr string) Condition {
	return func(content string) bool {
		return strings.Contains(content, substr)
	}
}

// Matches is satisfied when re matches content.
func Matches(re *regexp.Regexp) Condition {
	return func(content string) bool {
		return re.MatchString(content)
	}
}

// All is satisfied when every condition is. It stops at the first failure.
func All(conds ...Condition) Condition {
	return func(content string) bool {
		for _, c := range conds {
			if !c(content) {
				return false
			}
		}
		return true
	}
}

// Any is satisfied when at least one condition is.
func Any(conds ...Condition) Condition {
	return func(content string) bool {
		for _, c := range conds {
			if c(content) {
				return true
			}
		}
		return false
	}
}

// Not negates cond.
func Not(cond Condition) Condition {
	return func(content string) bool {
		return !cond(content)
	}
}

// ContentSource is anything that can report its current screen text.
type ContentSource interface {
	Content() string
}

// Poll checks cond against src.Content immediately and then every interval
// until it holds or ctx is done. It returns the last content observed. When
// ctx ends, one final check is made so a condition met at the deadline still
// counts.
func Poll(ctx context.Context, src ContentSource, cond Condition, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	last := src.Content()
	if cond(last) {
		return last, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			last = src.Content()
			if cond(last) {
				return last, nil
			}
			return last, ctx.Err()
		case <-ticker.C:
			last = src.Content()
			if cond(last) {
				return last, nil
			}
		}
	}
}

// effectiveTimeout resolves a caller timeout against the session default.
func effectiveTimeout(s Session, timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if d := s.Timeout(); d > 0 {
		return d
	}
	return DefaultTimeout
}

// WaitFor polls s until cond holds, failing with a *TimeoutError after
// timeout. A non-positive timeout means s.Timeout().
func WaitFor(s Session, cond Condition, timeout time.Duration) error {
	return waitFor(s, cond, "", timeout)
}

func waitFor(s Session, cond Condition, text string, timeout time.Duration) error {
	timeout = effectiveTimeout(s, timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	last, err := Poll(ctx, s, cond, DefaultPollInterval)
	if err != nil {
		return &TimeoutError{Text: text, Timeout: timeout, LastContent: last}
	}
	return nil
}

// WaitForText waits until text is a substring of s.Content.
// Session implementations use it for their WaitForText method.
func WaitForText(s Session, text string, timeout time.Duration) error {
	return waitFor(s, Contains(text), text, timeout)
}

// VerifyTextAppears reports whether text became a substring of s.Content
// within timeout. It never returns an error.
func VerifyTextAppears(s Session, text string, timeout time.Duration) bool {
	return WaitForText(s, text, timeout) == nil
}
