package compress

import (
	"context"
	"sort"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
)

// DefaultMinSummaryTokens is the smallest summary the compressor asks for.
const DefaultMinSummaryTokens = 32

// Options configures a Compressor.
type Options struct {
	Estimator  Estimator
	Summarizer Summarizer
	// MinSummaryTokens bounds how small a single summary may get.
	MinSummaryTokens int
	Logger           logging.Logger
}

// Compressor shrinks context refs until prompt plus context fit a budget.
// It holds no per-call state and is safe for concurrent use.
type Compressor struct {
	opts Options
}

// New creates a Compressor. Without a Summarizer, truncation is used.
func New(optFns ...func(o *Options)) *Compressor {
	opts := Options{
		Estimator:        CharEstimator{},
		Summarizer:       TruncateSummarizer{},
		MinSummaryTokens: DefaultMinSummaryTokens,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Estimator == nil {
		opts.Estimator = CharEstimator{}
	}
	if opts.Summarizer == nil {
		opts.Summarizer = TruncateSummarizer{}
	}
	if opts.MinSummaryTokens <= 0 {
		opts.MinSummaryTokens = DefaultMinSummaryTokens
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Compressor{opts: opts}
}

// Compress returns refs such that systemPrompt plus all ref texts fit
// budgetTokens where possible.
//
// When the input already fits, refs itself is returned. Otherwise a copy is
// returned in which refs are summarized largest first; the last ref (the
// most recent) is only summarized once all others are. A budget <= 0
// disables compression. If everything has been summarized and the total
// still exceeds the budget, the best effort copy is returned.
func (c *Compressor) Compress(ctx context.Context, refs []core.ContextRef, systemPrompt string, budgetTokens int) ([]core.ContextRef, error) {
	if budgetTokens <= 0 || len(refs) == 0 {
		return refs, nil
	}

	// Bytes are an upper bound on tokens.
	size := len(systemPrompt)
	for _, r := range refs {
		size += len(r.Source())
	}
	if size <= budgetTokens {
		return refs, nil
	}

	tokens := make([]int, len(refs))
	total := c.opts.Estimator.Estimate(systemPrompt)
	for i, r := range refs {
		tokens[i] = c.opts.Estimator.Estimate(r.Source())
		total += tokens[i]
	}
	if total <= budgetTokens {
		return refs, nil
	}

	out := make([]core.ContextRef, len(refs))
	copy(out, refs)
	for i := range out {
		out[i].Compressed = ""
	}

	overflow := total - budgetTokens
	for _, i := range compressionOrder(tokens) {
		if overflow <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target := tokens[i] - overflow
		if target < c.opts.MinSummaryTokens {
			target = c.opts.MinSummaryTokens
		}
		if target >= tokens[i] {
			continue
		}

		source := out[i].Source()
		summary, err := c.opts.Summarizer.Summarize(ctx, source, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.opts.Logger.Warn("compress.summarize.fallback", "ref", out[i].Label(), "error", err.Error())
			summary = truncate(source, target, DefaultCharsPerToken)
		}
		got := c.opts.Estimator.Estimate(summary)
		if got >= tokens[i] || got > target {
			summary = truncate(source, target, DefaultCharsPerToken)
			got = c.opts.Estimator.Estimate(summary)
		}
		if summary == "" || got >= tokens[i] {
			continue
		}

		out[i].Compressed = summary
		overflow -= tokens[i] - got
		c.opts.Logger.Debug("compress.ref.summarized", "ref", out[i].Label(), "from_tokens", tokens[i], "to_tokens", got)
	}

	if overflow > 0 {
		c.opts.Logger.Warn("compress.over_budget", "budget_tokens", budgetTokens, "overflow_tokens", overflow)
	}
	return out, nil
}

// compressionOrder lists every index except the last by descending size,
// then the last.
func compressionOrder(tokens []int) []int {
	n := len(tokens)
	order := make([]int, 0, n)
	for i := 0; i < n-1; i++ {
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool { return tokens[order[a]] > tokens[order[b]] })
	return append(order, n-1)
}
