package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"bookchat/internal/auth"
	"bookchat/internal/config"
	"bookchat/internal/models"
	"bookchat/internal/session"
)

var (
	boldMarkerRe  = regexp.MustCompile(models.BoldMarkerRegex)
	moreDetailsRe = regexp.MustCompile(models.MoreDetailsRegex)
)

// Querier answers one question against one book.
type Querier interface {
	Query(ctx context.Context, book config.BookConfig, question string) (*models.PromptResponse, error)
}

// Service turns user submissions into chat turns and keeps the session
// rules: login, quota and one query in flight per session.
type Service struct {
	cfg     *config.Config
	querier Querier
	store   session.Store
	allow   *auth.AllowList

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(cfg *config.Config, querier Querier, store session.Store, allow *auth.AllowList) *Service {
	return &Service{
		cfg:      cfg,
		querier:  querier,
		store:    store,
		allow:    allow,
		inflight: make(map[string]struct{}),
	}
}

func (s *Service) Books() []config.BookConfig {
	return s.cfg.Books
}

func (s *Service) Book(key string) (config.BookConfig, bool) {
	return s.cfg.Book(key)
}

func (s *Service) QueryLimit() int {
	return s.cfg.Quota.Limit
}

// PopularQuestions are the canned questions shown next to the chat.
func (s *Service) PopularQuestions(bookKey string) []string {
	if b, ok := s.cfg.Book(bookKey); ok && len(b.PopularQuestions) > 0 {
		return b.PopularQuestions
	}
	for _, b := range s.cfg.Books {
		if len(b.PopularQuestions) > 0 {
			return b.PopularQuestions
		}
	}
	return nil
}

// Login opens a session for an allow-listed email.
func (s *Service) Login(ctx context.Context, email string) (*session.Session, error) {
	normalized, err := s.allow.Authenticate(email)
	if err != nil {
		log.Info().Str("email", email).Msg("Login refused")
		return nil, err
	}
	ttl := time.Duration(s.cfg.Auth.SessionTTLMinutes) * time.Minute
	sess, err := session.New(normalized, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	log.Info().Str("session", sess.ID).Str("email", normalized).Msg("Session started")
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) Session(ctx context.Context, id string) (*session.Session, error) {
	return s.store.Get(ctx, id)
}

// Suggest prefills the next question of a session.
func (s *Service) Suggest(ctx context.Context, sess *session.Session, question string) error {
	sess.Suggest(strings.TrimSpace(question))
	return s.store.Save(ctx, sess)
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// Submit asks question against the book under bookKey. A retrieval or
// generation failure is not returned as an error: it becomes a failed
// turn carrying the apology text.
func (s *Service) Submit(ctx context.Context, sess *session.Session, bookKey, question string) (*models.Turn, error) {
	if sess == nil || !sess.Authenticated {
		return nil, models.ErrUnauthorized
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.ErrEmptyQuestion
	}
	book, ok := s.cfg.Book(bookKey)
	if !ok {
		sess.Notice = models.NoBookSelectedMessage
		return nil, models.ErrNoBookSelected
	}

	if !s.acquire(sess.ID) {
		return nil, models.ErrBusy
	}
	defer s.release(sess.ID)

	// the caller's copy may predate another tab's turn
	fresh, err := s.store.Get(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
		}
		return nil, err
	}
	*sess = *fresh
	sess.BookKey = bookKey

	if sess.Blocked(s.cfg.Quota.Limit) {
		sess.Notice = models.QuotaExceededMessage
		if err := s.store.Save(ctx, sess); err != nil {
			log.Error().Err(err).Str("session", sess.ID).Msg("Failed to save session")
		}
		return nil, models.ErrQuotaExceeded
	}

	if err := sess.Begin(); err != nil {
		return nil, err
	}

	turn := models.Turn{Question: question, BookKey: bookKey, At: time.Now().UTC()}
	resp, err := s.querier.Query(ctx, book, question)
	counted := true
	if err != nil {
		log.Error().Err(err).Str("session", sess.ID).Str("book", bookKey).Msg("Query failed")
		turn.Answer = models.GenerationFailedMessage
		turn.Failed = true
		counted = s.cfg.Quota.CountFailures
		if errors.Is(err, context.Canceled) {
			sess.Abort()
			return nil, err
		}
	} else {
		turn.Answer = resp.Content
		turn.Book = resp.Book
		turn.PageNumber = resp.PageNumber
		turn.ImagePath = resp.ImagePath
		turn.Suggestions = resp.Suggestions
	}

	sess.Complete(turn, counted)
	if err := s.store.Save(ctx, sess); err != nil {
		return &turn, err
	}
	log.Info().Str("session", sess.ID).Int("count", sess.QueryCount).Bool("failed", turn.Failed).Msg("Turn recorded")
	return &turn, nil
}

// CleanText strips bold markers and any trailing "For more details"
// paragraph for plain-text output.
func CleanText(text string) string {
	text = boldMarkerRe.ReplaceAllString(text, "")
	text = moreDetailsRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
