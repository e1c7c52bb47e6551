package session

import (
	"time"

	"bookchat/internal/helper"
	"bookchat/internal/models"
)

type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateGenerating    State = "generating"
	StateDisplaying    State = "displaying"
)

// Session is everything one logged-in user carries between requests.
// It is never written to disk.
type Session struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Authenticated bool          `json:"authenticated"`
	State         State         `json:"state"`
	QueryCount    int           `json:"query_count"`
	History       []models.Turn `json:"history"`
	Suggested     string        `json:"suggested,omitempty"`
	BookKey       string        `json:"book_key,omitempty"`
	Notice        string        `json:"notice,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// New starts an authenticated session for email.
func New(email string, ttl time.Duration) (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		Email:         email,
		Authenticated: true,
		State:         StateAwaitingInput,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}, nil
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Blocked reports whether the free query quota is used up.
func (s *Session) Blocked(limit int) bool {
	return limit > 0 && s.QueryCount >= limit
}

// Begin moves the session into Generating. Only one query may be in
// flight at a time.
func (s *Session) Begin() error {
	if s.State == StateGenerating {
		return models.ErrBusy
	}
	s.State = StateGenerating
	s.Notice = ""
	return nil
}

// Complete records a finished turn. counted decides whether the turn
// uses up quota.
func (s *Session) Complete(turn models.Turn, counted bool) {
	s.History = append(s.History, turn)
	if counted {
		s.QueryCount++
	}
	if !turn.Failed {
		s.Suggested = ""
	}
	s.State = StateDisplaying
}

// Abort leaves Generating without recording a turn.
func (s *Session) Abort() {
	if s.State == StateGenerating {
		s.State = StateAwaitingInput
	}
}

func (s *Session) Suggest(question string) {
	s.Suggested = question
}

func (s *Session) ResetQuota() {
	s.QueryCount = 0
	s.Notice = ""
}

// Clone returns a copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	c := *s
	if s.History != nil {
		c.History = make([]models.Turn, len(s.History))
		copy(c.History, s.History)
		for i := range c.History {
			c.History[i].Suggestions = append([]string(nil), s.History[i].Suggestions...)
		}
	}
	return &c
}
