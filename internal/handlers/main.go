package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	chatbotui "github.com/MegaGrindStone/chatbot-ui"
	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
	"github.com/tmaxmax/go-sse"
)

// Generator produces a reply for a prompt. Implementations are created once at startup and shared by all
// sessions, so they must not carry per-request state.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Store defines the interface for looking up and creating chat sessions. A session lives only as long as
// the store keeps it.
type Store interface {
	AddSession(ctx context.Context) (*session.Session, error)
	Session(ctx context.Context, id string) (*session.Session, error)
}

// Main handles the chat application: it renders the page, runs submissions against the Generator and
// pushes transcript updates to the session's browsers over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  models.Renderer

	generator Generator
	store     Store

	logger *slog.Logger
}

const (
	sessionCookieName = "chatbot_session"

	pageTitle       = "Chatbot Application"
	pageDescription = "This is a simple chatbot interface."

	errLoggerKey = "err"
)

// NewMain creates a new Main instance with the provided Generator and Store implementations. It parses the
// HTML templates from the embedded filesystem and configures the SSE server so that each client is
// subscribed to the topic of the session named by its cookie.
func NewMain(generator Generator, store Store, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatbotui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				if c, err := s.Req.Cookie(sessionCookieName); err == nil && c.Value != "" {
					topics = append(topics, sessionTopic(c.Value))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		renderer:  models.NewRenderer(),
		generator: generator,
		store:     store,
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the server-sent events stream for the caller's session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// currentSession returns the session named by the request cookie, starting a new one and setting the
// cookie when there is none or it has expired.
func (m Main) currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		s, err := m.store.Session(r.Context(), c.Value)
		if err == nil {
			return s, nil
		}
		m.logger.Debug("Session not usable, starting a new one",
			slog.String("sessionID", c.Value),
			slog.String(errLoggerKey, err.Error()))
	}

	s, err := m.store.AddSession(r.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to add session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	m.logger.Info("Session started", slog.String("sessionID", s.ID))
	return s, nil
}
