package agent

import (
	"strings"
	"time"
	"unicode"
)

// turnJudge decides how long to wait after a final transcript before the user
// turn is committed. Utterances that end on terminal punctuation get the short
// delay; anything that trails off waits the full window in case the caller is
// still mid-thought.
type turnJudge struct {
	min time.Duration
	max time.Duration
}

// delayFor returns the endpointing delay for the given final transcript text.
func (j turnJudge) delayFor(text string) time.Duration {
	if endsUtterance(text) {
		return j.min
	}
	return j.max
}

// endsUtterance reports whether text ends with a character that typically
// closes a spoken sentence. The Devanagari danda is included for Hindi.
func endsUtterance(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	switch runes[len(runes)-1] {
	case '.', '!', '?', '।':
		return true
	}
	return false
}
