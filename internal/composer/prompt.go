package composer

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/resumechat/internal/tree"
)

const defaultMaxPromptTokens = 4000

// ContextLead introduces the reduced context inside the system prompt.
const ContextLead = "Context (dynamically selected based on your question):"

//go:embed header.txt
var headerText string

// Header returns the fixed instruction block that opens every system prompt.
func Header() string {
	return strings.TrimSpace(headerText)
}

// Composer assembles the system prompt from the instruction header, a reduced
// profile context and an exemplar block.
type Composer struct {
	// MaxPromptTokens is a soft budget. Prompts over it are logged, never cut.
	MaxPromptTokens int
	Logger          *slog.Logger
}

// New creates a Composer with the given prompt token budget.
// If maxPromptTokens <= 0, the default (4000) is used.
func New(maxPromptTokens int) *Composer {
	if maxPromptTokens <= 0 {
		maxPromptTokens = defaultMaxPromptTokens
	}
	return &Composer{MaxPromptTokens: maxPromptTokens}
}

// Assemble renders the system prompt. The context is written as two-space
// indented JSON in its own key order, so identical inputs always produce
// identical prompts.
func (c *Composer) Assemble(reduced *tree.Map, exemplars string) (string, error) {
	if reduced == nil {
		reduced = tree.New()
	}
	ctxJSON, err := tree.Indent(reduced)
	if err != nil {
		return "", fmt.Errorf("encoding context: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(Header())
	sb.WriteString("\n\n")
	sb.WriteString(ContextLead)
	sb.WriteString("\n")
	sb.WriteString(ctxJSON)
	sb.WriteString("\n\n")
	sb.WriteString(exemplars)
	prompt := strings.TrimSpace(sb.String())

	if tokens := EstimateTokens(prompt); tokens > c.MaxPromptTokens {
		c.logger().Warn("system prompt exceeds token budget",
			"estimated_tokens", tokens,
			"budget", c.MaxPromptTokens,
		)
	}
	return prompt, nil
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
