package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"bookchat/internal/models"
	"bookchat/internal/spreadsheet"
)

// AllowList is the set of emails allowed to log in.
type AllowList struct {
	mu     sync.RWMutex
	emails map[string]struct{}
}

func NewAllowList(emails []string) *AllowList {
	a := &AllowList{}
	a.replace(emails)
	return a
}

// LoadAllowList reads the Email column of an xlsx file.
func LoadAllowList(path string) (*AllowList, error) {
	emails, err := spreadsheet.LoadEmails(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", path).Int("count", len(emails)).Msg("Allow-list loaded")
	return NewAllowList(emails), nil
}

func (a *AllowList) replace(emails []string) {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			set[e] = struct{}{}
		}
	}
	a.mu.Lock()
	a.emails = set
	a.mu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate returns the normalised email when it is on the list.
func (a *AllowList) Authenticate(email string) (string, error) {
	e := normalizeEmail(email)
	if e == "" {
		return "", models.ErrInvalidEmail
	}
	a.mu.RLock()
	_, ok := a.emails[e]
	a.mu.RUnlock()
	if !ok {
		return "", models.ErrInvalidEmail
	}
	return e, nil
}

func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.emails)
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Claims identifies the session a cookie belongs to.
type Claims struct {
	SessionID string
	Email     string
	ExpiresAt time.Time
}

// Tokens signs and checks session cookies.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}, nil
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue creates an HS256 token whose subject is the session id.
func (t *Tokens) Issue(sessionID, email string) (string, error) {
	now := time.Now()
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

// Parse validates a token. Any failure is ErrUnauthorized.
func (t *Tokens) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return nil, models.ErrUnauthorized
	}
	out := &Claims{SessionID: c.Subject, Email: c.Email}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
