package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
	"github.com/MegaGrindStone/chatbot-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLlamaServer is a llama.cpp server stand-in with a word level vocabulary. Every completion proposes
// the next word of script after the last known word, then "Hello" again, then end of text.
func fakeLlamaServer(t *testing.T) *httptest.Server {
	t.Helper()

	vocab := map[int]string{1: "Hello", 2: " world", 3: "!", services.GPT2EndOfText: "<|endoftext|>"}
	ids := map[string]int{"Hello": 1, " world": 2, "!": 3}
	script := map[int][]map[string]any{
		1: {{"id": 2, "logprob": -0.1}, {"id": 3, "logprob": -1.5}},
		2: {{"id": 1, "logprob": -0.2}, {"id": 3, "logprob": -0.9}},
		3: {{"id": services.GPT2EndOfText, "logprob": -0.05}},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/tokenize":
			content, _ := body["content"].(string)
			var toks []int
			rest := content
			for rest != "" {
				matched := false
				for word, id := range ids {
					if strings.HasPrefix(rest, word) {
						toks = append(toks, id)
						rest = rest[len(word):]
						matched = true
						break
					}
				}
				if !matched {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":{"code":400,"message":"unknown text","type":"invalid_request_error"}}`))
					return
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"tokens": toks})
		case "/detokenize":
			var sb strings.Builder
			for _, v := range body["tokens"].([]any) {
				sb.WriteString(vocab[int(v.(float64))])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"content": sb.String()})
		case "/completion":
			if _, ok := body["temperature"]; ok {
				http.Error(w, "temperature is not expected for probability requests", http.StatusBadRequest)
				return
			}
			prompt := body["prompt"].([]any)
			last := int(prompt[len(prompt)-1].(float64))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"completion_probabilities": []map[string]any{
					{"id": script[last][0]["id"], "top_logprobs": script[last]},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestLlamaCppDecoderGenerate(t *testing.T) {
	srv := fakeLlamaServer(t)
	defer srv.Close()

	l := services.NewLlamaCpp(srv.URL, "gpt2", 0, services.GPT2EndOfText, nil, discardLogger())
	d, err := generator.NewDecoder(l, l, generator.DefaultParams(), discardLogger())
	require.NoError(t, err)

	// Hello -> " world" -> "Hello" -> " world" is banned (repeat bigram) so "!" -> end of text.
	text, err := d.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello worldHello!", text)
}

func TestLlamaCppEncodeDecode(t *testing.T) {
	srv := fakeLlamaServer(t)
	defer srv.Close()

	l := services.NewLlamaCpp(srv.URL, "gpt2", 5, services.GPT2EndOfText, []int{99}, discardLogger())

	ids, err := l.Encode(context.Background(), "Hello world!")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)

	text, err := l.Decode(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", text)

	empty, err := l.Decode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Equal(t, services.GPT2EndOfText, l.EOS())
	assert.True(t, l.IsSpecial(services.GPT2EndOfText))
	assert.True(t, l.IsSpecial(99))
	assert.False(t, l.IsSpecial(1))
}

func TestLlamaCppServerError(t *testing.T) {
	srv := fakeLlamaServer(t)
	defer srv.Close()

	l := services.NewLlamaCpp(srv.URL, "gpt2", 0, services.GPT2EndOfText, nil, discardLogger())

	_, err := l.Encode(context.Background(), "unknown words")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown text")
}

func TestLlamaCppNextTokens(t *testing.T) {
	srv := fakeLlamaServer(t)
	defer srv.Close()

	l := services.NewLlamaCpp(srv.URL, "gpt2", 0, services.GPT2EndOfText, nil, discardLogger())

	cands, err := l.NextTokens(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, []generator.Candidate{{ID: 2, Score: -0.1}, {ID: 3, Score: -1.5}}, cands)
}
