package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
	"github.com/tmaxmax/go-sse"
)

// SSE event type carrying a session's rendered chat log.
var transcriptSSEType = sse.Type("transcript")

const (
	validationNotice = "Please enter a message."
	busyNotice       = "Please wait for the previous message to be answered."

	// partialHeader marks requests from the page script, which only need the chat panel back.
	partialHeader = "X-Requested-With"
	partialValue  = "fetch"
)

// HandleChat processes a message submission through HTTP POST. It expects a "message" form field and runs
// it through the caller's session: the message is appended with a placeholder reply, the Generator is
// called synchronously, and the placeholder is replaced with the result or the error marker.
//
// Empty or whitespace-only messages are rejected with 400 and leave the transcript untouched. A submission
// made while the session is still waiting for a previous reply is rejected with 409. A generation failure
// is not an HTTP error: the page is rendered with the error marker in the transcript and a notice carrying
// the failure detail.
//
// Subscribed browsers receive the chat log when the entry becomes pending and again when it resolves.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
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

	msg := r.FormValue("message")

	status := http.StatusOK
	input := ""
	var notices []notice

	_, err = s.Submit(r.Context(), m.generator, msg, func(models.Entry) {
		m.publishTranscript(s)
	})
	switch {
	case err == nil:
		m.publishTranscript(s)
	case errors.Is(err, session.ErrEmptyMessage):
		m.logger.Debug("Empty message rejected", slog.String("sessionID", s.ID))
		status = http.StatusBadRequest
		notices = append(notices, notice{Kind: noticeError, Text: validationNotice})
	case errors.Is(err, session.ErrBusy):
		m.logger.Warn("Submission rejected while previous one is pending", slog.String("sessionID", s.ID))
		status = http.StatusConflict
		input = msg
		notices = append(notices, notice{Kind: noticeError, Text: busyNotice})
	default:
		m.logger.Error("Generation failed",
			slog.String("sessionID", s.ID),
			slog.String(errLoggerKey, err.Error()))
		m.publishTranscript(s)
		notices = append(notices, notice{Kind: noticeError, Text: fmt.Sprintf("An error occurred: %v", err)})
	}

	data, err := m.pageData(s.Entries(), input, notices)
	if err != nil {
		m.logger.Error("Failed to render transcript",
			slog.String("sessionID", s.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	name := "home.html"
	if r.Header.Get(partialHeader) == partialValue {
		name = "chat_panel"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := m.templates.ExecuteTemplate(w, name, data); err != nil {
		m.logger.Error("Failed to execute template",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishTranscript(s *session.Session) {
	chatLog, err := m.renderChatLog(s.Entries())
	if err != nil {
		m.logger.Error("Failed to render chat log",
			slog.String("sessionID", s.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: transcriptSSEType,
	}
	msg.AppendData(chatLog)
	if err := m.sseSrv.Publish(&msg, sessionTopic(s.ID)); err != nil {
		m.logger.Error("Failed to publish transcript",
			slog.String("sessionID", s.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}
