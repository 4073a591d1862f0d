package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/amitsx/ragbot/internal/models"
)

// Fallback answers. The pipeline records whatever the generator returns, so
// these keep stored assistant messages non-empty even when the model is down.
const (
	ApologyMessage    = "I apologize, but I encountered an error while generating a response. Please try again."
	EmptyReplyMessage = "I apologize, but I couldn't generate a proper response. Please try rephrasing your question."
)

const contextHeader = "Use the following context to answer the question:"

// GeneratorConfig represents the configuration for the answer generator.
type GeneratorConfig struct {
	Model              string
	BaseURL            string // Ollama server URL
	Temperature        float64
	MaxTokens          int
	MaxContextChars    int
	MaxHistoryMessages int
	Timeout            time.Duration
}

// Generator produces a single chat answer per call from the query, the
// retrieved context, and a bounded window of conversation history.
type Generator struct {
	config GeneratorConfig
	model  llms.Model
}

func NewGeneratorWithConfig(config GeneratorConfig) (*Generator, error) {
	applyGeneratorDefaults(&config)

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %v", err)
	}

	return &Generator{config: config, model: model}, nil
}

// NewGeneratorWithModel wires an already-constructed model client. The model
// capability is fixed at construction, not probed per call.
func NewGeneratorWithModel(config GeneratorConfig, model llms.Model) *Generator {
	applyGeneratorDefaults(&config)
	return &Generator{config: config, model: model}
}

func applyGeneratorDefaults(config *GeneratorConfig) {
	if config.Model == "" {
		config.Model = "llama3:8b"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.MaxContextChars == 0 {
		config.MaxContextChars = 6000
	}
	if config.MaxHistoryMessages == 0 {
		config.MaxHistoryMessages = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
}

// Answer generates a reply to query. Transport failures and blank completions
// are absorbed into fixed fallback strings rather than surfaced as errors.
func (g *Generator) Answer(ctx context.Context, query, contextText, systemPrompt string, history []models.Message) string {
	messages := g.buildMessages(query, contextText, systemPrompt, history)

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	)
	if err != nil || len(resp.Choices) == 0 {
		return ApologyMessage
	}

	answer := resp.Choices[0].Content
	if strings.TrimSpace(answer) == "" {
		return EmptyReplyMessage
	}
	return answer
}

func (g *Generator) buildMessages(query, contextText, systemPrompt string, history []models.Message) []llms.MessageContent {
	system := systemPrompt
	if contextText != "" {
		if len(contextText) > g.config.MaxContextChars {
			contextText = contextText[:g.config.MaxContextChars]
		}
		system += "\n\n" + contextHeader + "\n" + contextText
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
	}

	recent := history
	if len(recent) > g.config.MaxHistoryMessages {
		recent = recent[len(recent)-g.config.MaxHistoryMessages:]
	}
	for _, msg := range recent {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case models.RoleAssistant:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, msg.Content))
		}
	}

	// Do not repeat the query when it is already the trailing user turn.
	if n := len(recent); n == 0 || recent[n-1].Role != models.RoleUser || recent[n-1].Content != query {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))
	}

	return messages
}
