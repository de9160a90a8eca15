package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI generates text through an OpenAI-compatible text completions endpoint. The prompt is echoed back
// in front of the completion, matching the output shape of the other generators.
type OpenAI struct {
	model  string
	params generator.Params

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL and model name. An empty
// baseURL uses the OpenAI API.
func NewOpenAI(apiKey, baseURL, model string, params generator.Params, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:  model,
		params: params,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// Generate is a wrapper around the OpenAI completion API.
func (o OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	req := goopenai.CompletionRequest{
		Model:       o.model,
		Prompt:      prompt,
		MaxTokens:   o.params.MaxLength,
		N:           o.params.NumReturnSequences,
		Echo:        true,
		// omitempty drops a zero temperature, so the smallest float32 stands in for greedy decoding.
		Temperature: math.SmallestNonzeroFloat32,
	}

	resp, err := o.client.CreateCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: error sending request: %w", generator.ErrGeneration, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", generator.ErrGeneration, errors.New("no choices found"))
	}

	o.logger.Debug("Completion",
		slog.String("model", o.model),
		slog.String("finishReason", resp.Choices[0].FinishReason))

	return resp.Choices[0].Text, nil
}
