// Package generator turns a prompt into generated text by driving a causal language model one token
// at a time: the prompt is encoded, extended greedily under a no-repeat n-gram constraint until the
// length limit or end-of-sequence token, and decoded back to text without special tokens.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Default generation parameters.
const (
	DefaultModel              = "gpt2"
	DefaultMaxLength          = 50
	DefaultNumReturnSequences = 1
	DefaultNoRepeatNgramSize  = 2
)

// ErrGeneration is wrapped by every error returned from Generate.
var ErrGeneration = errors.New("generation failed")

// Params controls the shape of a generation call.
type Params struct {
	// MaxLength bounds the total sequence length, prompt tokens included.
	MaxLength int
	// NumReturnSequences is the number of candidate sequences. Only one is supported.
	NumReturnSequences int
	// NoRepeatNgramSize forbids any n-gram of this size from appearing twice. Zero disables it.
	NoRepeatNgramSize int
}

// Tokenizer converts between text and the model's token IDs.
type Tokenizer interface {
	Encode(ctx context.Context, text string) ([]int, error)
	Decode(ctx context.Context, ids []int) (string, error)
	EOS() int
	IsSpecial(id int) bool
}

// Candidate is a scored next-token proposal. Higher Score is better.
type Candidate struct {
	ID    int
	Score float64
}

// Model proposes candidates for the token following ids.
type Model interface {
	NextTokens(ctx context.Context, ids []int) ([]Candidate, error)
}

// Decoder implements text generation over a Tokenizer and a Model. It holds no mutable state, so a
// single Decoder is shared by every request.
type Decoder struct {
	tokenizer Tokenizer
	model     Model
	params    Params

	logger *slog.Logger
}

// DefaultParams returns the parameters the chatbot runs with.
func DefaultParams() Params {
	return Params{
		MaxLength:          DefaultMaxLength,
		NumReturnSequences: DefaultNumReturnSequences,
		NoRepeatNgramSize:  DefaultNoRepeatNgramSize,
	}
}

// Validate reports whether the parameters can be used for generation.
func (p Params) Validate() error {
	if p.MaxLength <= 0 {
		return fmt.Errorf("max length must be positive, got %d", p.MaxLength)
	}
	if p.NumReturnSequences != 1 {
		return fmt.Errorf("only one return sequence is supported, got %d", p.NumReturnSequences)
	}
	if p.NoRepeatNgramSize < 0 {
		return fmt.Errorf("no-repeat n-gram size must not be negative, got %d", p.NoRepeatNgramSize)
	}
	return nil
}

// NewDecoder creates a Decoder. It returns an error if params are invalid.
func NewDecoder(tokenizer Tokenizer, model Model, params Params, logger *slog.Logger) (Decoder, error) {
	if err := params.Validate(); err != nil {
		return Decoder{}, err
	}
	return Decoder{
		tokenizer: tokenizer,
		model:     model,
		params:    params,
		logger:    logger.With(slog.String("module", "decoder")),
	}, nil
}

// Generate encodes prompt, extends it with greedily chosen tokens and returns the decoded sequence,
// prompt included. Callers are expected to reject empty prompts before calling.
func (d Decoder) Generate(ctx context.Context, prompt string) (string, error) {
	ids, err := d.tokenizer.Encode(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: encode prompt: %w", ErrGeneration, err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: prompt encodes to no tokens", ErrGeneration)
	}

	promptLen := len(ids)
	eos := d.tokenizer.EOS()

	for len(ids) < d.params.MaxLength {
		cands, err := d.model.NextTokens(ctx, ids)
		if err != nil {
			return "", fmt.Errorf("%w: next tokens: %w", ErrGeneration, err)
		}

		next, ok := pick(cands, BannedTokens(ids, d.params.NoRepeatNgramSize))
		if !ok {
			d.logger.Debug("No allowed candidate, stopping", slog.Int("length", len(ids)))
			break
		}
		ids = append(ids, next)
		if next == eos {
			break
		}
	}

	d.logger.Debug("Generated tokens",
		slog.Int("promptTokens", promptLen),
		slog.Int("newTokens", len(ids)-promptLen))

	text, err := d.tokenizer.Decode(ctx, d.stripSpecial(ids))
	if err != nil {
		return "", fmt.Errorf("%w: decode output: %w", ErrGeneration, err)
	}
	return text, nil
}

func (d Decoder) stripSpecial(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if d.tokenizer.IsSpecial(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// pick returns the best scoring candidate that is not banned. Ties keep the runtime's order.
func pick(cands []Candidate, banned map[int]struct{}) (int, bool) {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	for _, c := range sorted {
		if _, ok := banned[c.ID]; ok {
			continue
		}
		return c.ID, true
	}
	return 0, false
}
