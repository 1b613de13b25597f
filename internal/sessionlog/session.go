// Package sessionlog records visitor questions and answers, grouped into one
// session per visitor per day.
package sessionlog

import (
	"strings"
	"time"
)

// KeyPrefix starts every session key.
const KeyPrefix = "session:"

// Unknown stands in for a missing visitor identity, user agent or question.
const Unknown = "unknown"

// TimeFormat is UTC with millisecond precision and a literal Z.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Entry is one interaction. Answer is nil when the request failed, and Error
// is nil when it succeeded.
type Entry struct {
	ID        string  `json:"id,omitempty"`
	Timestamp string  `json:"timestamp"`
	Question  string  `json:"question"`
	Answer    *string `json:"answer"`
	Error     *string `json:"error"`
	UserAgent string  `json:"userAgent"`
	IP        string  `json:"ip"`
}

// Session is every interaction from one visitor on one UTC day.
type Session struct {
	StartTime    string  `json:"startTime"`
	Interactions []Entry `json:"interactions"`
}

// Stored pairs a session with its store key.
type Stored struct {
	Key string
	Session
}

// SessionKey returns the key for identity's session on t's UTC date.
func SessionKey(t time.Time, identity string) string {
	if strings.TrimSpace(identity) == "" {
		identity = Unknown
	}
	return KeyPrefix + t.UTC().Format("2006-01-02") + ":" + identity
}

// FormatTime renders t the way entries store timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Answered builds an entry for a successful exchange.
func Answered(question, answer string) Entry {
	return Entry{Question: question, Answer: &answer}
}

// Failed builds an entry for a request that ended in err.
func Failed(question string, err error) Entry {
	msg := err.Error()
	return Entry{Question: question, Error: &msg}
}
