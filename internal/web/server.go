package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"bookchat/internal/auth"
	"bookchat/internal/chat"
	"bookchat/internal/models"
	"bookchat/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const sessionKey = "session"

type Options struct {
	Title      string
	CookieName string
	ImagesDir  string
	// Secure marks the session cookie https-only.
	Secure bool
}

// Server is the browser chat surface.
type Server struct {
	svc    *chat.Service
	tokens *auth.Tokens
	opts   Options
	md     goldmark.Markdown
	tmpl   *template.Template
}

func NewServer(svc *chat.Service, tokens *auth.Tokens, opts Options) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		svc:    svc,
		tokens: tokens,
		opts:   opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		tmpl: tmpl,
	}, nil
}

// Router wires every route onto a fresh gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.SetHTMLTemplate(s.tmpl)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Static("/images", s.opts.ImagesDir)
	r.POST("/login", s.handleLogin)

	authed := r.Group("/")
	authed.Use(s.loadSession())
	{
		authed.GET("/", s.handleIndex)
		authed.POST("/logout", s.requireSession, s.handleLogout)
		authed.POST("/ask", s.requireSession, s.handleAsk)
		authed.POST("/suggest", s.requireSession, s.handleSuggest)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting web server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

// loadSession resolves the cookie to a live session when there is one.
func (s *Server) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(s.opts.CookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			s.clearCookie(c)
			c.Next()
			return
		}
		sess, err := s.svc.Session(c.Request.Context(), claims.SessionID)
		if err != nil {
			if !errors.Is(err, models.ErrSessionNotFound) {
				log.Error().Err(err).Msg("Failed to load session")
			}
			s.clearCookie(c)
			c.Next()
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func (s *Server) requireSession(c *gin.Context) {
	if currentSession(c) == nil {
		c.Redirect(http.StatusSeeOther, "/")
		c.Abort()
		return
	}
	c.Next()
}

func currentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*session.Session)
	return sess
}

func (s *Server) setCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, token, int(s.tokens.TTL().Seconds()), "/", "", s.opts.Secure, true)
}

func (s *Server) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, "", -1, "/", "", s.opts.Secure, true)
}

// renderMarkdown turns an answer into HTML. Raw HTML in the answer is
// not passed through.
func (s *Server) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

func imageURL(path string) string {
	if path == "" {
		return ""
	}
	return "/images/" + filepath.Base(path)
}
