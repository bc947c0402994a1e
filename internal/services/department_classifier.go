package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/utils"
)

const (
	classifierMaxTokens      = 16
	classifierMaxDescription = 2000
)

// DepartmentClassifier routes a ticket that arrived without a department
type DepartmentClassifier interface {
	Classify(ctx context.Context, title, description string) (string, error)
}

type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClassifier asks a Claude model which department owns a ticket
type AnthropicClassifier struct {
	messages messageCreator
	model    string
}

// NewAnthropicClassifier creates a classifier using the Messages API
func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{messages: &client.Messages, model: model}
}

func classifierSystemPrompt() string {
	return fmt.Sprintf(`You route internal helpdesk tickets to a department.
Answer with exactly one of: %s.
Answer with the department name only, no punctuation or explanation.
Use General when no other department clearly fits.`, strings.Join(database.KnownDepartments, ", "))
}

// Classify returns the department for the ticket. Answers that do not name a
// known department map to General.
func (c *AnthropicClassifier) Classify(ctx context.Context, title, description string) (string, error) {
	userPrompt := fmt.Sprintf("Title: %s\n\nDescription:\n%s", title, utils.TruncateText(description, classifierMaxDescription))

	message, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: classifierMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: classifierSystemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to classify ticket: %w", err)
	}

	var answer strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}

	department := ParseDepartment(answer.String())
	log.Printf("DepartmentClassifier: Routed %q to %s", utils.TruncateText(title, 60), department)
	return department, nil
}

// ParseDepartment matches a free-text answer against the known departments,
// ignoring case and surrounding punctuation.
func ParseDepartment(answer string) string {
	cleaned := strings.Trim(strings.TrimSpace(answer), ".,:;\"'`*")
	for _, dept := range database.KnownDepartments {
		if strings.EqualFold(cleaned, dept) {
			return dept
		}
	}
	return database.DepartmentGeneral
}

