package compress

// Estimator returns the approximate token count of a text.
type Estimator interface {
	Estimate(text string) int
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(text string) int

// Estimate implements Estimator.
func (f EstimatorFunc) Estimate(text string) int { return f(text) }

// DefaultCharsPerToken is the ratio used by CharEstimator.
const DefaultCharsPerToken = 4

// CharEstimator counts CharsPerToken bytes per token, rounded up.
type CharEstimator struct {
	CharsPerToken int
}

// Estimate implements Estimator.
func (e CharEstimator) Estimate(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	return (len(text) + per - 1) / per
}
