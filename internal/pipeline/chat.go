// Package pipeline answers a visitor's question: it selects the relevant
// parts of the profile, builds the system prompt, and runs the completion.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/resumechat/internal/composer"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/selection"
	"github.com/kalambet/resumechat/internal/topics"
	"github.com/kalambet/resumechat/internal/tree"
)

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ProfileSource supplies the full profile document.
type ProfileSource interface {
	Load(ctx context.Context) (*tree.Map, profile.Source, error)
}

// Prepared is everything sent to the model for one question.
type Prepared struct {
	Categories   []string
	Reduced      *tree.Map
	SystemPrompt string
	Source       profile.Source
}

// Metadata captures diagnostic information about one answered question.
type Metadata struct {
	Categories       []string
	Source           profile.Source
	PromptTokens     int
	PrepareDuration  time.Duration
	CompleteDuration time.Duration
}

// Answer is the model's reply.
type Answer struct {
	Text     string
	Metadata Metadata
}

// Chat wires the selection and prompt stages to a completer.
type Chat struct {
	profiles  ProfileSource
	topics    *topics.Mapping
	composer  *composer.Composer
	completer Completer
	logger    *slog.Logger
}

// NewChat creates a Chat. A nil mapping means the built-in topic table, and a
// nil composer means the default prompt budget.
func NewChat(profiles ProfileSource, mapping *topics.Mapping, comp *composer.Composer, completer Completer) *Chat {
	if mapping == nil {
		mapping = topics.Default()
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Chat{
		profiles:  profiles,
		topics:    mapping,
		composer:  comp,
		completer: completer,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger and returns c.
func (c *Chat) WithLogger(l *slog.Logger) *Chat {
	if l != nil {
		c.logger = l
	}
	return c
}

// Prepare builds the system prompt for message without calling the model.
func (c *Chat) Prepare(ctx context.Context, message string) (Prepared, error) {
	if strings.TrimSpace(message) == "" {
		return Prepared{}, &InputError{Err: ErrNoMessage}
	}

	full, src, err := c.profiles.Load(ctx)
	if err != nil {
		return Prepared{}, &ContextLoadError{Err: err}
	}

	cats := c.topics.Match(message)
	reduced := selection.Select(cats, c.topics, full)
	exemplars := composer.BuildExemplars(reduced)

	prompt, err := c.composer.Assemble(reduced, exemplars)
	if err != nil {
		return Prepared{}, &ContextLoadError{Err: fmt.Errorf("assembling prompt: %w", err)}
	}

	return Prepared{
		Categories:   cats,
		Reduced:      reduced,
		SystemPrompt: prompt,
		Source:       src,
	}, nil
}

// Answer runs the whole pipeline for one question. Errors are one of
// *InputError, *ContextLoadError or *UpstreamError.
func (c *Chat) Answer(ctx context.Context, message string) (Answer, error) {
	start := time.Now()
	p, err := c.Prepare(ctx, message)
	if err != nil {
		return Answer{}, err
	}
	meta := Metadata{
		Categories:      p.Categories,
		Source:          p.Source,
		PromptTokens:    composer.EstimateTokens(p.SystemPrompt),
		PrepareDuration: time.Since(start),
	}

	c.logger.Debug("prompt prepared",
		"categories", p.Categories,
		"source", p.Source,
		"prompt_tokens", meta.PromptTokens,
	)

	callStart := time.Now()
	text, err := c.completer.Complete(ctx, p.SystemPrompt, message)
	meta.CompleteDuration = time.Since(callStart)
	if err != nil {
		return Answer{Metadata: meta}, &UpstreamError{Err: err}
	}
	return Answer{Text: text, Metadata: meta}, nil
}
