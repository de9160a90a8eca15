// Package session holds the per-browser chat transcript and the submission state machine that drives it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/google/uuid"
)

// Generator produces the bot reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Session is the transcript of one UI session. Entries are only ever appended and each pending entry is
// resolved once. A session accepts one submission at a time.
type Session struct {
	ID string

	mu      sync.Mutex
	entries models.Transcript
	pending string
}

var (
	// ErrEmptyMessage is returned for a submission that is empty or only whitespace.
	ErrEmptyMessage = errors.New("please enter a message")
	// ErrBusy is returned for a submission made while a previous one is still being generated.
	ErrBusy = errors.New("a previous message is still being processed")
	// ErrEntryNotFound is returned when resolving an entry that is not the pending one.
	ErrEntryNotFound = errors.New("pending entry not found")
)

// New creates an empty session with the given ID.
func New(id string) *Session {
	return &Session{
		ID: id,
	}
}

// Begin validates message and appends it as a pending entry.
func (s *Session) Begin(message string) (models.Entry, error) {
	if strings.TrimSpace(message) == "" {
		return models.Entry{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != "" {
		return models.Entry{}, ErrBusy
	}

	e := models.Entry{
		ID:        uuid.New().String(),
		User:      message,
		Bot:       models.PlaceholderText,
		Status:    models.StatusPending,
		Timestamp: time.Now(),
	}
	s.entries = append(s.entries, e)
	s.pending = e.ID
	return e, nil
}

// Resolve replaces the placeholder of the pending entry with the generated text.
func (s *Session) Resolve(id, text string) (models.Entry, error) {
	return s.finish(id, text, models.StatusDone)
}

// Fail replaces the placeholder of the pending entry with the error marker.
func (s *Session) Fail(id string) (models.Entry, error) {
	return s.finish(id, models.ErrorMarkerText, models.StatusFailed)
}

func (s *Session) finish(id, bot string, status models.Status) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == "" || s.pending != id {
		return models.Entry{}, ErrEntryNotFound
	}

	// The pending entry is always the last one appended.
	last := len(s.entries) - 1
	s.entries[last].Bot = bot
	s.entries[last].Status = status
	s.pending = ""
	return s.entries[last], nil
}

// Entries returns a copy of the transcript in append order.
func (s *Session) Entries() models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(models.Transcript, len(s.entries))
	copy(out, s.entries)
	return out
}

// Pending reports whether a submission is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != ""
}

// Submit runs one submission through the session: validate, append a pending entry, call gen and resolve
// the entry. onPending, if not nil, is called after the pending entry is appended and before gen runs.
//
// Validation and busy errors are returned before anything is appended. When gen fails the entry is marked
// with the error marker and the generation error is returned together with the resolved entry; the session
// stays usable.
func (s *Session) Submit(ctx context.Context, gen Generator, message string, onPending func(models.Entry)) (models.Entry, error) {
	e, err := s.Begin(message)
	if err != nil {
		return models.Entry{}, err
	}
	if onPending != nil {
		onPending(e)
	}

	text, genErr := generate(ctx, gen, message)
	if genErr != nil {
		resolved, err := s.Fail(e.ID)
		if err != nil {
			return models.Entry{}, fmt.Errorf("failed to mark entry as failed: %w", err)
		}
		return resolved, genErr
	}

	resolved, err := s.Resolve(e.ID, text)
	if err != nil {
		return models.Entry{}, fmt.Errorf("failed to resolve entry: %w", err)
	}
	return resolved, nil
}

// generate calls gen and reports a panic inside it as a generation failure, so the pending entry is still
// resolved.
func generate(ctx context.Context, gen Generator, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", generator.ErrGeneration, r)
		}
	}()
	return gen.Generate(ctx, prompt)
}
