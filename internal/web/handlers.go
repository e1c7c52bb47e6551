package web

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"bookchat/internal/models"
	"bookchat/internal/session"
)

type bookView struct {
	Key      string
	Title    string
	Selected bool
}

type turnView struct {
	Question    string
	Answer      template.HTML
	Link        string
	Source      string
	ImageURL    string
	Suggestions []string
	Failed      bool
}

type chatView struct {
	Title     string
	Email     string
	Books     []bookView
	History   []turnView
	Popular   []string
	Suggested string
	Notice    string
	Used      int
	Limit     int
}

type loginView struct {
	Title string
	Error string
}

func (s *Server) handleIndex(c *gin.Context) {
	sess := currentSession(c)
	if sess == nil {
		c.HTML(http.StatusOK, "login.html", loginView{Title: s.opts.Title})
		return
	}
	s.renderChat(c, http.StatusOK, sess)
}

func (s *Server) renderChat(c *gin.Context, status int, sess *session.Session) {
	view := chatView{
		Title:     s.opts.Title,
		Email:     sess.Email,
		Popular:   s.svc.PopularQuestions(sess.BookKey),
		Suggested: sess.Suggested,
		Notice:    sess.Notice,
		Used:      sess.QueryCount,
		Limit:     s.svc.QueryLimit(),
	}
	for _, b := range s.svc.Books() {
		view.Books = append(view.Books, bookView{Key: b.Key, Title: b.Title, Selected: b.Key == sess.BookKey})
	}
	for _, t := range sess.History {
		tv := turnView{
			Question:    t.Question,
			Answer:      s.renderMarkdown(t.Answer),
			ImageURL:    imageURL(t.ImagePath),
			Suggestions: t.Suggestions,
			Failed:      t.Failed,
		}
		if t.PageNumber > 0 {
			tv.Source = fmt.Sprintf("Book: %s, Page Number - %d", t.Book, t.PageNumber)
		}
		if b, ok := s.svc.Book(t.BookKey); ok && !t.Failed {
			tv.Link = b.Link
		}
		view.History = append(view.History, tv)
	}
	c.HTML(status, "chat.html", view)
}

func (s *Server) handleLogin(c *gin.Context) {
	sess, err := s.svc.Login(c.Request.Context(), c.PostForm("email"))
	if errors.Is(err, models.ErrInvalidEmail) {
		c.HTML(http.StatusUnauthorized, "login.html", loginView{Title: s.opts.Title, Error: models.InvalidEmailMessage})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Login failed")
		c.HTML(http.StatusInternalServerError, "login.html", loginView{Title: s.opts.Title, Error: "Login is unavailable right now."})
		return
	}

	token, err := s.tokens.Issue(sess.ID, sess.Email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign session token")
		c.HTML(http.StatusInternalServerError, "login.html", loginView{Title: s.opts.Title, Error: "Login is unavailable right now."})
		return
	}
	s.setCookie(c, token)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.svc.Logout(c.Request.Context(), currentSession(c).ID); err != nil {
		log.Error().Err(err).Msg("Failed to delete session")
	}
	s.clearCookie(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleAsk(c *gin.Context) {
	sess := currentSession(c)
	_, err := s.svc.Submit(c.Request.Context(), sess, c.PostForm("book"), c.PostForm("question"))
	switch {
	case err == nil:
		c.Redirect(http.StatusSeeOther, "/")
	case errors.Is(err, models.ErrQuotaExceeded):
		s.renderChat(c, http.StatusTooManyRequests, sess)
	case errors.Is(err, models.ErrBusy):
		sess.Notice = models.BusyMessage
		s.renderChat(c, http.StatusConflict, sess)
	case errors.Is(err, models.ErrNoBookSelected), errors.Is(err, models.ErrEmptyQuestion):
		s.renderChat(c, http.StatusBadRequest, sess)
	case errors.Is(err, models.ErrUnauthorized):
		s.clearCookie(c)
		c.Redirect(http.StatusSeeOther, "/")
	default:
		log.Error().Err(err).Str("session", sess.ID).Msg("Submit failed")
		sess.Notice = models.GenerationFailedMessage
		s.renderChat(c, http.StatusInternalServerError, sess)
	}
}

func (s *Server) handleSuggest(c *gin.Context) {
	sess := currentSession(c)
	if err := s.svc.Suggest(c.Request.Context(), sess, c.PostForm("question")); err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("Failed to save suggestion")
	}
	c.Redirect(http.StatusSeeOther, "/")
}
