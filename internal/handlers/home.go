package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
)

type notice struct {
	Kind string
	Text string
}

type homePageData struct {
	Title       string
	Description string
	Input       string
	Notices     []notice
	Entries     []models.RenderedEntry
}

const (
	noticeError = "error"
)

// HandleHome renders the chat page for the caller's session: title, description, the message form and the
// chat log. A session and its cookie are created on the first visit. Rendering does not change the
// session, so reloading shows the same transcript.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := m.currentSession(w, r)
	if err != nil {
		m.logger.Error("Failed to get session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data, err := m.pageData(s.Entries(), "", nil)
	if err != nil {
		m.logger.Error("Failed to render transcript",
			slog.String("sessionID", s.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) pageData(t models.Transcript, input string, notices []notice) (homePageData, error) {
	entries, err := m.renderer.RenderTranscript(t)
	if err != nil {
		return homePageData{}, err
	}
	return homePageData{
		Title:       pageTitle,
		Description: pageDescription,
		Input:       input,
		Notices:     notices,
		Entries:     entries,
	}, nil
}

// renderChatLog renders only the chat log partial, as pushed to subscribed browsers.
func (m Main) renderChatLog(t models.Transcript) (string, error) {
	data, err := m.pageData(t, "", nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chat_log", data); err != nil {
		return "", fmt.Errorf("failed to execute chat_log template: %w", err)
	}
	return sb.String(), nil
}
