package models

import "time"

// Entry is one exchange in a session transcript: the user's message and the bot's reply to it. Bot holds
// PlaceholderText while generation is in flight and is replaced exactly once with either the generated text
// or ErrorMarkerText.
type Entry struct {
	ID        string
	User      string
	Bot       string
	Status    Status
	Timestamp time.Time
}

// Transcript is the ordered list of entries of a session, oldest first.
type Transcript []Entry

const (
	// PlaceholderText is the bot text of an entry whose generation has not finished.
	PlaceholderText = "Thinking..."
	// ErrorMarkerText is the bot text of an entry whose generation failed.
	ErrorMarkerText = "Error: Unable to process your request."
)

// Pending reports whether the entry is still waiting for the generator.
func (e Entry) Pending() bool {
	return e.Status == StatusPending
}

// Last returns the most recent entry and whether the transcript has any.
func (t Transcript) Last() (Entry, bool) {
	if len(t) == 0 {
		return Entry{}, false
	}
	return t[len(t)-1], true
}
