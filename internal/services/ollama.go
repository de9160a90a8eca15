package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
	"github.com/ollama/ollama/api"
)

// Ollama generates text with a model served by Ollama. Prompts are sent in raw mode so no chat template is
// applied, and the reply is the prompt followed by the continuation, as with a plain causal model.
type Ollama struct {
	host   string
	model  string
	params generator.Params

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, params generator.Params, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:   host,
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Generate implements the Generator interface. Ollama has no exact no-repeat n-gram constraint, so the
// repeat penalty window is set to the n-gram size instead.
func (o Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	f := false
	req := api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Raw:    true,
		Stream: &f,
		Options: map[string]any{
			"num_predict": o.params.MaxLength,
			"temperature": 0,
		},
	}
	if o.params.NoRepeatNgramSize > 0 {
		req.Options["repeat_last_n"] = o.params.NoRepeatNgramSize
	}

	var text string
	if err := o.client.Generate(ctx, &req, func(res api.GenerateResponse) error {
		text += res.Response
		return nil
	}); err != nil {
		return "", fmt.Errorf("%w: error sending request: %w", generator.ErrGeneration, err)
	}

	o.logger.Debug("Ollama response", slog.String("model", o.model), slog.Int("length", len(text)))

	return prompt + text, nil
}
