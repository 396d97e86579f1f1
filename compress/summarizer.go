package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
)

// Summarizer shortens text to roughly targetTokens tokens.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
}

const ellipsis = "..."

// TruncateSummarizer keeps the leading part of the text, cut at a word
// boundary. It is deterministic and never fails.
type TruncateSummarizer struct {
	CharsPerToken int
}

// Summarize implements Summarizer.
func (s TruncateSummarizer) Summarize(_ context.Context, text string, targetTokens int) (string, error) {
	return truncate(text, targetTokens, s.CharsPerToken), nil
}

func truncate(text string, targetTokens, charsPerToken int) string {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	limit := targetTokens * charsPerToken
	if len(text) <= limit {
		return text
	}
	if limit <= len(ellipsis) {
		return ""
	}
	cut := limit - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	head := text[:cut]
	if i := strings.LastIndexAny(head, " \n\t"); i > len(head)/2 {
		head = head[:i]
	}
	return strings.TrimSpace(head) + ellipsis
}

// ModelSummarizer asks a model for an abstractive summary.
type ModelSummarizer struct {
	gateway *model.Gateway
	timeout time.Duration
}

// NewModelSummarizer creates a summarizer calling gateway. A zero timeout
// uses the gateway default.
func NewModelSummarizer(gateway *model.Gateway, timeout time.Duration) *ModelSummarizer {
	return &ModelSummarizer{gateway: gateway, timeout: timeout}
}

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, text string, targetTokens int) (string, error) {
	req := model.Request{
		Instructions: fmt.Sprintf(
			"Summarize the user's text in at most %d tokens. Keep facts, numbers and names. Reply with the summary only.",
			targetTokens,
		),
		Contents: []core.Content{core.NewTextContent(core.RoleUser, text)},
	}
	resp, err := s.gateway.Send(ctx, req, s.timeout)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}
