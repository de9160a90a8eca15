package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
)

// LlamaCpp talks to a llama.cpp server hosting a causal language model and exposes it as a
// generator.Tokenizer and generator.Model, so decoding runs in this process with the server only
// supplying tokenization and next-token log probabilities.
type LlamaCpp struct {
	host    string
	model   string
	topK    int
	eos     int
	special map[int]struct{}

	client *http.Client

	logger *slog.Logger
}

// Defaults for a llama.cpp server serving GPT-2.
const (
	DefaultLlamaCppHost = "http://127.0.0.1:8081"
	DefaultLlamaCppTopK = 20
	// GPT2EndOfText is the ID of GPT-2's <|endoftext|> token, its only special token.
	GPT2EndOfText = 50256
)

type llamaCppTokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
}

type llamaCppTokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

type llamaCppDetokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type llamaCppDetokenizeResponse struct {
	Content string `json:"content"`
}

type llamaCppCompletionRequest struct {
	Prompt      []int `json:"prompt"`
	NPredict    int   `json:"n_predict"`
	NProbs      int   `json:"n_probs"`
	CachePrompt bool  `json:"cache_prompt"`
}

type llamaCppTokenProb struct {
	ID      int     `json:"id"`
	Token   string  `json:"token"`
	LogProb float64 `json:"logprob"`
}

type llamaCppCompletionResponse struct {
	CompletionProbabilities []struct {
		llamaCppTokenProb
		TopLogProbs []llamaCppTokenProb `json:"top_logprobs"`
	} `json:"completion_probabilities"`
}

type llamaCppError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewLlamaCpp creates a LlamaCpp client for the server at host. topK is the number of candidates requested
// per step, eos the end-of-sequence token ID, and special the token IDs stripped from decoded output. The
// eos token is always treated as special.
func NewLlamaCpp(host, model string, topK, eos int, special []int, logger *slog.Logger) LlamaCpp {
	if host == "" {
		host = DefaultLlamaCppHost
	}
	if topK <= 0 {
		topK = DefaultLlamaCppTopK
	}
	sp := make(map[int]struct{}, len(special)+1)
	sp[eos] = struct{}{}
	for _, id := range special {
		sp[id] = struct{}{}
	}

	return LlamaCpp{
		host:    strings.TrimRight(host, "/"),
		model:   model,
		topK:    topK,
		eos:     eos,
		special: sp,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "llamacpp")),
	}
}

// Encode tokenizes text without adding BOS or other special tokens.
func (l LlamaCpp) Encode(ctx context.Context, text string) ([]int, error) {
	var res llamaCppTokenizeResponse
	if err := l.post(ctx, "/tokenize", llamaCppTokenizeRequest{Content: text}, &res); err != nil {
		return nil, err
	}
	return res.Tokens, nil
}

// Decode converts token IDs back to text.
func (l LlamaCpp) Decode(ctx context.Context, ids []int) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	var res llamaCppDetokenizeResponse
	if err := l.post(ctx, "/detokenize", llamaCppDetokenizeRequest{Tokens: ids}, &res); err != nil {
		return "", err
	}
	return res.Content, nil
}

// EOS returns the end-of-sequence token ID.
func (l LlamaCpp) EOS() int {
	return l.eos
}

// IsSpecial reports whether id is a control token that must not appear in output text.
func (l LlamaCpp) IsSpecial(id int) bool {
	_, ok := l.special[id]
	return ok
}

// NextTokens asks the server for the top candidates following ids, scored by log probability.
func (l LlamaCpp) NextTokens(ctx context.Context, ids []int) ([]generator.Candidate, error) {
	req := llamaCppCompletionRequest{
		Prompt:      ids,
		NPredict:    1,
		NProbs:      l.topK,
		CachePrompt: true,
	}

	var res llamaCppCompletionResponse
	if err := l.post(ctx, "/completion", req, &res); err != nil {
		return nil, err
	}
	if len(res.CompletionProbabilities) == 0 {
		return nil, fmt.Errorf("llama.cpp returned no token probabilities")
	}

	top := res.CompletionProbabilities[0].TopLogProbs
	cands := make([]generator.Candidate, len(top))
	for i, p := range top {
		cands[i] = generator.Candidate{ID: p.ID, Score: p.LogProb}
	}
	return cands, nil
}

func (l LlamaCpp) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.host+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var e llamaCppError
		if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
			return fmt.Errorf("llama.cpp error %s: %s", e.Error.Type, e.Error.Message)
		}
		return fmt.Errorf("llama.cpp %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	l.logger.Debug("llama.cpp response", slog.String("path", path), slog.String("model", l.model))
	return nil
}
