package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chatbot-ui/internal/handlers"
	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
)

type mockGenerator struct {
	responses map[string]string
	err       error
}

type mockStore struct {
	sessions map[string]*session.Session
	nextID   int
	err      error
}

const cookieName = "chatbot_session"

func newMockStore() *mockStore {
	return &mockStore{sessions: map[string]*session.Session{}}
}

func newMain(t *testing.T, gen handlers.Generator, store handlers.Store) handlers.Main {
	t.Helper()
	m, err := handlers.NewMain(gen, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return m
}

func postChat(m handlers.Main, sessionID, message string, headers map[string]string) *httptest.ResponseRecorder {
	form := url.Values{"message": {message}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: sessionID})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	m.HandleChat(w, req)
	return w
}

func TestNewMain(t *testing.T) {
	main := newMain(t, &mockGenerator{}, newMockStore())

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := newMockStore()
	s := session.New("existing")
	e, _ := s.Begin("Hello")
	_, _ = s.Resolve(e.ID, "Hello there")
	store.sessions[s.ID] = s

	main := newMain(t, &mockGenerator{}, store)

	tests := []struct {
		name       string
		method     string
		url        string
		sessionID  string
		wantStatus int
		wantBody   string
		wantCookie bool
	}{
		{
			name:       "First visit",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Chatbot Application",
			wantCookie: true,
		},
		{
			name:       "Existing session",
			method:     http.MethodGet,
			url:        "/",
			sessionID:  "existing",
			wantStatus: http.StatusOK,
			wantBody:   "Hello there",
		},
		{
			name:       "Expired session",
			method:     http.MethodGet,
			url:        "/",
			sessionID:  "gone",
			wantStatus: http.StatusOK,
			wantBody:   "Chat Log:",
			wantCookie: true,
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			method:     http.MethodDelete,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			if tt.sessionID != "" {
				req.AddCookie(&http.Cookie{Name: cookieName, Value: tt.sessionID})
			}
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
			gotCookie := len(w.Result().Cookies()) > 0
			if gotCookie != tt.wantCookie {
				t.Errorf("HandleHome() set cookie = %v, want %v", gotCookie, tt.wantCookie)
			}
		})
	}
}

func TestHandleHomeIsIdempotent(t *testing.T) {
	store := newMockStore()
	s := session.New("s1")
	for _, msg := range []string{"A", "B"} {
		e, _ := s.Begin(msg)
		_, _ = s.Resolve(e.ID, "resp"+msg)
	}
	store.sessions[s.ID] = s
	main := newMain(t, &mockGenerator{}, store)

	render := func() string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: s.ID})
		w := httptest.NewRecorder()
		main.HandleHome(w, req)
		return w.Body.String()
	}

	first, second := render(), render()
	if first != second {
		t.Errorf("HandleHome() rendered differently without new submissions:\n%s\n---\n%s", first, second)
	}
	if strings.Index(first, "respA") > strings.Index(first, "respB") {
		t.Error("HandleHome() should render entries in submission order")
	}
}

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		message     string
		genErr      error
		wantStatus  int
		wantBody    []string
		wantEntries int
		wantBot     string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
			wantBody:   []string{"Please enter a message."},
		},
		{
			name:       "Whitespace message",
			method:     http.MethodPost,
			message:    "   ",
			wantStatus: http.StatusBadRequest,
			wantBody:   []string{"Please enter a message."},
		},
		{
			name:        "Success",
			method:      http.MethodPost,
			message:     "Hello",
			wantStatus:  http.StatusOK,
			wantBody:    []string{"Hello, I am a bot"},
			wantEntries: 1,
			wantBot:     "Hello, I am a bot",
		},
		{
			name:        "Generation failure",
			method:      http.MethodPost,
			message:     "Hello",
			genErr:      errors.New("model runtime crashed"),
			wantStatus:  http.StatusOK,
			wantBody:    []string{"Error: Unable to process your request.", "An error occurred: model runtime crashed"},
			wantEntries: 1,
			wantBot:     models.ErrorMarkerText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{
				responses: map[string]string{"Hello": "Hello, I am a bot"},
				err:       tt.genErr,
			}
			store := newMockStore()
			s := session.New("s1")
			store.sessions[s.ID] = s
			main := newMain(t, gen, store)

			form := url.Values{"message": {tt.message}}
			req := httptest.NewRequest(tt.method, "/chat", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.AddCookie(&http.Cookie{Name: cookieName, Value: s.ID})
			w := httptest.NewRecorder()

			main.HandleChat(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChat() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleChat() body = %v, want to contain %v", w.Body.String(), want)
				}
			}

			entries := s.Entries()
			if len(entries) != tt.wantEntries {
				t.Fatalf("HandleChat() transcript length = %d, want %d", len(entries), tt.wantEntries)
			}
			if tt.wantEntries == 0 {
				return
			}
			last, _ := entries.Last()
			if last.User != tt.message {
				t.Errorf("HandleChat() last user = %q, want %q", last.User, tt.message)
			}
			if last.Bot != tt.wantBot {
				t.Errorf("HandleChat() last bot = %q, want %q", last.Bot, tt.wantBot)
			}
		})
	}
}

func TestHandleChatOrdering(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{"A": "respA", "B": "respB"}}
	store := newMockStore()
	main := newMain(t, gen, store)

	w := postChat(main, "", "A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("HandleChat() status = %v, want %v", w.Code, http.StatusOK)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("HandleChat() should start a session and set its cookie")
	}
	sessionID := cookies[0].Value

	if w := postChat(main, sessionID, "B", nil); w.Code != http.StatusOK {
		t.Fatalf("HandleChat() status = %v, want %v", w.Code, http.StatusOK)
	}

	entries := store.sessions[sessionID].Entries()
	want := []struct{ user, bot string }{{"A", "respA"}, {"B", "respB"}}
	if len(entries) != len(want) {
		t.Fatalf("transcript length = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.User != want[i].user || e.Bot != want[i].bot {
			t.Errorf("entry %d = {%q, %q}, want {%q, %q}", i, e.User, e.Bot, want[i].user, want[i].bot)
		}
	}
}

func TestHandleChatBusy(t *testing.T) {
	store := newMockStore()
	s := session.New("s1")
	if _, err := s.Begin("first"); err != nil {
		t.Fatal(err)
	}
	store.sessions[s.ID] = s
	main := newMain(t, &mockGenerator{}, store)

	w := postChat(main, s.ID, "second", nil)

	if w.Code != http.StatusConflict {
		t.Errorf("HandleChat() status = %v, want %v", w.Code, http.StatusConflict)
	}
	if len(s.Entries()) != 1 {
		t.Errorf("transcript length = %d, want 1", len(s.Entries()))
	}
}

func TestHandleChatPartial(t *testing.T) {
	gen := &mockGenerator{responses: map[string]string{"Hello": "Hi"}}
	store := newMockStore()
	s := session.New("s1")
	store.sessions[s.ID] = s
	main := newMain(t, gen, store)

	w := postChat(main, s.ID, "Hello", map[string]string{"X-Requested-With": "fetch"})

	if w.Code != http.StatusOK {
		t.Fatalf("HandleChat() status = %v, want %v", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if strings.Contains(body, "<html") {
		t.Error("HandleChat() should render only the chat panel for fetch requests")
	}
	if !strings.Contains(body, `id="chat-panel"`) {
		t.Errorf("HandleChat() body = %v, want chat panel", body)
	}
}

func TestHandleChatStoreError(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("store unavailable")
	main := newMain(t, &mockGenerator{}, store)

	w := postChat(main, "", "Hello", nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("HandleChat() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.responses[prompt], nil
}

func (m *mockStore) AddSession(_ context.Context) (*session.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.nextID++
	s := session.New("session-" + strings.Repeat("x", m.nextID))
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockStore) Session(_ context.Context, id string) (*session.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}
