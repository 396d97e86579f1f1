package compress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
)

type summarizeCall struct {
	text   string
	target int
}

// fillSummarizer returns exactly target tokens worth of text.
type fillSummarizer struct {
	mu    sync.Mutex
	calls []summarizeCall
	err   error
}

func (s *fillSummarizer) Summarize(_ context.Context, text string, target int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, summarizeCall{text: text, target: target})
	if s.err != nil {
		return "", s.err
	}
	return strings.Repeat("s", target*DefaultCharsPerToken), nil
}

func knowledge(text string) core.ContextRef {
	return core.KnowledgeRef(core.NewKnowledgeItem(text, ""))
}

func TestCompress_FastPathSkipsEstimator(t *testing.T) {
	calls := 0
	c := New(func(o *Options) {
		o.Estimator = EstimatorFunc(func(s string) int { calls++; return len(s) })
	})
	refs := []core.ContextRef{knowledge("abc"), knowledge("def")}

	out, err := c.Compress(context.Background(), refs, "system", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	require.Len(t, out, 2)
	assert.Same(t, &refs[0], &out[0])
}

func TestCompress_NoOpAtExactBoundary(t *testing.T) {
	sum := &fillSummarizer{}
	c := New(func(o *Options) {
		o.Summarizer = sum
		o.MinSummaryTokens = 1
	})
	refs := []core.ContextRef{knowledge(strings.Repeat("a", 40))}

	out, err := c.Compress(context.Background(), refs, "", 10)
	require.NoError(t, err)
	assert.Same(t, &refs[0], &out[0])
	assert.False(t, out[0].IsCompressed())
	assert.Empty(t, sum.calls)

	out, err = c.Compress(context.Background(), refs, "", 9)
	require.NoError(t, err)
	require.Len(t, sum.calls, 1)
	assert.Equal(t, 9, sum.calls[0].target)
	assert.True(t, out[0].IsCompressed())
	assert.False(t, refs[0].IsCompressed(), "input must not be mutated")
}

func TestCompress_LargestFirstExcludingMostRecent(t *testing.T) {
	sum := &fillSummarizer{}
	c := New(func(o *Options) {
		o.Summarizer = sum
		o.MinSummaryTokens = 1
	})
	refs := []core.ContextRef{
		knowledge(strings.Repeat("a", 400)), // 100 tokens
		knowledge(strings.Repeat("b", 800)), // 200 tokens
		knowledge(strings.Repeat("c", 400)), // 100 tokens, most recent
	}

	out, err := c.Compress(context.Background(), refs, "", 250)
	require.NoError(t, err)

	require.Len(t, sum.calls, 1)
	assert.Equal(t, 50, sum.calls[0].target)
	assert.False(t, out[0].IsCompressed())
	assert.True(t, out[1].IsCompressed())
	assert.False(t, out[2].IsCompressed())
	for _, r := range refs {
		assert.False(t, r.IsCompressed())
	}
}

func TestCompress_MostRecentOnlyWhenNeeded(t *testing.T) {
	sum := &fillSummarizer{}
	c := New(func(o *Options) {
		o.Summarizer = sum
		o.MinSummaryTokens = 1
	})
	refs := []core.ContextRef{
		knowledge(strings.Repeat("a", 400)),  // 100 tokens
		knowledge(strings.Repeat("z", 1600)), // 400 tokens, most recent
	}

	out, err := c.Compress(context.Background(), refs, "", 100)
	require.NoError(t, err)

	require.Len(t, sum.calls, 2)
	assert.Equal(t, refs[0].Source(), sum.calls[0].text)
	assert.Equal(t, 1, sum.calls[0].target)
	assert.Equal(t, refs[1].Source(), sum.calls[1].text)
	assert.Equal(t, 99, sum.calls[1].target)

	total := 0
	for _, r := range out {
		assert.True(t, r.IsCompressed())
		total += CharEstimator{}.Estimate(r.Text())
	}
	assert.LessOrEqual(t, total, 100)
}

func TestCompress_SummarizerFailureFallsBackToTruncation(t *testing.T) {
	c := New(func(o *Options) {
		o.Summarizer = &fillSummarizer{err: errors.New("model down")}
		o.MinSummaryTokens = 1
	})
	refs := []core.ContextRef{
		knowledge(strings.Repeat("word ", 80)), // 100 tokens
		knowledge("tail"),
	}

	out, err := c.Compress(context.Background(), refs, "", 50)
	require.NoError(t, err)
	require.True(t, out[0].IsCompressed())
	assert.True(t, strings.HasSuffix(out[0].Text(), ellipsis))
	assert.LessOrEqual(t, CharEstimator{}.Estimate(out[0].Text()), 49)
	assert.False(t, out[1].IsCompressed())
}

func TestCompress_SystemPromptIsNeverCompressed(t *testing.T) {
	sum := &fillSummarizer{}
	c := New(func(o *Options) {
		o.Summarizer = sum
		o.MinSummaryTokens = 1
	})
	system := strings.Repeat("p", 400) // 100 tokens on its own
	refs := []core.ContextRef{knowledge(strings.Repeat("a", 40))}

	out, err := c.Compress(context.Background(), refs, system, 50)
	require.NoError(t, err)
	for _, call := range sum.calls {
		assert.NotEqual(t, system, call.text)
	}
	assert.True(t, out[0].IsCompressed())
}

func TestCompress_Cancelled(t *testing.T) {
	c := New(func(o *Options) { o.MinSummaryTokens = 1 })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compress(ctx, []core.ContextRef{knowledge(strings.Repeat("a", 400))}, "", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompress_DisabledBudget(t *testing.T) {
	refs := []core.ContextRef{knowledge(strings.Repeat("a", 4000))}
	out, err := New().Compress(context.Background(), refs, "", 0)
	require.NoError(t, err)
	assert.Same(t, &refs[0], &out[0])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10, 4))

	got := truncate("alpha beta gamma delta epsilon", 4, 4)
	assert.Equal(t, "alpha beta...", got)
	assert.LessOrEqual(t, len(got), 16)

	assert.Equal(t, "", truncate("abcdefgh", 0, 4))
}

func TestCharEstimator(t *testing.T) {
	e := CharEstimator{}
	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 1, e.Estimate("abc"))
	assert.Equal(t, 1, e.Estimate("abcd"))
	assert.Equal(t, 2, e.Estimate("abcde"))
}

func TestModelSummarizer(t *testing.T) {
	m := model.NewScriptedModel(model.Reply("  short summary  "), model.Reply(" "))
	s := NewModelSummarizer(model.NewGateway(m), 0)

	got, err := s.Summarize(context.Background(), "a very long text", 12)
	require.NoError(t, err)
	assert.Equal(t, "short summary", got)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "at most 12 tokens")

	_, err = s.Summarize(context.Background(), "again", 12)
	assert.Error(t, err)
}
