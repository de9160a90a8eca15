package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/generator"
	"github.com/MegaGrindStone/chatbot-ui/internal/handlers"
	"github.com/MegaGrindStone/chatbot-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type generatorConfig interface {
	generator(logger *slog.Logger) (handlers.Generator, error)
}

// BaseGeneratorConfig contains the common fields for all generator configurations.
type BaseGeneratorConfig struct {
	Provider           string `yaml:"provider"`
	Model              string `yaml:"model"`
	MaxLength          int    `yaml:"maxLength"`
	NumReturnSequences int    `yaml:"numReturnSequences"`
	NoRepeatNgramSize  *int   `yaml:"noRepeatNgramSize"`
}

type config struct {
	Port       string          `yaml:"port"`
	LogLevel   string          `yaml:"logLevel"`
	LogMode    string          `yaml:"logMode"`
	SessionTTL time.Duration   `yaml:"sessionTTL"`
	Generator  generatorConfig `yaml:"generator"`
}

type llamaCppConfig struct {
	BaseGeneratorConfig `yaml:",inline"`
	Host                string `yaml:"host"`
	TopK                int    `yaml:"topK"`
	EOS                 *int   `yaml:"eos"`
	SpecialTokens       []int  `yaml:"specialTokens"`
}

type ollamaConfig struct {
	BaseGeneratorConfig `yaml:",inline"`
	Host                string `yaml:"host"`
}

type openAIConfig struct {
	BaseGeneratorConfig `yaml:",inline"`
	APIKey              string `yaml:"apiKey"`
	BaseURL             string `yaml:"baseURL"`
}

const (
	defaultPort = "8080"
)

func defaultConfig() config {
	return config{
		Port:       defaultPort,
		LogLevel:   "info",
		LogMode:    "text",
		SessionTTL: services.DefaultSessionTTL,
		Generator: &llamaCppConfig{
			BaseGeneratorConfig: BaseGeneratorConfig{
				Provider: "llamacpp",
				Model:    generator.DefaultModel,
			},
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port       string         `yaml:"port"`
		LogLevel   string         `yaml:"logLevel"`
		LogMode    string         `yaml:"logMode"`
		SessionTTL time.Duration  `yaml:"sessionTTL"`
		Generator  map[string]any `yaml:"generator"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.LogMode != "" {
		c.LogMode = rawConfig.LogMode
	}
	if rawConfig.SessionTTL != 0 {
		c.SessionTTL = rawConfig.SessionTTL
	}

	if rawConfig.Generator == nil {
		return nil
	}

	provider, ok := rawConfig.Generator["provider"].(string)
	if !ok {
		return fmt.Errorf("generator provider is required")
	}

	genRawYAML, err := yaml.Marshal(rawConfig.Generator)
	if err != nil {
		return err
	}

	var gen generatorConfig
	switch provider {
	case "llamacpp":
		gen = &llamaCppConfig{}
	case "ollama":
		gen = &ollamaConfig{}
	case "openai":
		gen = &openAIConfig{}
	default:
		return fmt.Errorf("unknown generator provider: %s", provider)
	}

	if err := yaml.Unmarshal(genRawYAML, gen); err != nil {
		return err
	}

	c.Generator = gen

	return nil
}

// decodeConfig decodes YAML from r on top of the values already in cfg. An empty document leaves cfg as is.
func decodeConfig(r io.Reader, cfg *config) error {
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

func (c config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.LogMode) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log mode: %s", c.LogMode)
	}
}

func (b BaseGeneratorConfig) model() string {
	if b.Model == "" {
		return generator.DefaultModel
	}
	return b.Model
}

func (b BaseGeneratorConfig) params() (generator.Params, error) {
	p := generator.DefaultParams()
	if b.MaxLength != 0 {
		p.MaxLength = b.MaxLength
	}
	if b.NumReturnSequences != 0 {
		p.NumReturnSequences = b.NumReturnSequences
	}
	if b.NoRepeatNgramSize != nil {
		p.NoRepeatNgramSize = *b.NoRepeatNgramSize
	}
	if err := p.Validate(); err != nil {
		return generator.Params{}, err
	}
	return p, nil
}

func (l llamaCppConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	params, err := l.params()
	if err != nil {
		return nil, err
	}

	eos := services.GPT2EndOfText
	if l.EOS != nil {
		eos = *l.EOS
	}

	lc := services.NewLlamaCpp(l.Host, l.model(), l.TopK, eos, l.SpecialTokens, logger)
	d, err := generator.NewDecoder(lc, lc, params, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (o ollamaConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	params, err := o.params()
	if err != nil {
		return nil, err
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	ol, err := services.NewOllama(host, o.model(), params, logger)
	if err != nil {
		return nil, err
	}
	return ol, nil
}

func (o openAIConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	params, err := o.params()
	if err != nil {
		return nil, err
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && o.BaseURL == "" {
		return nil, fmt.Errorf("apiKey is required when using the OpenAI API")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.model(), params, logger), nil
}
