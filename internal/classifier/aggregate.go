package classifier

import "fmt"

// DefaultLabels are the output classes of the garbage classification model,
// in output order.
var DefaultLabels = []string{
	"battery",
	"biological",
	"brown-glass",
	"cardboard",
	"clothes",
	"green-glass",
	"metal",
	"paper",
	"plastic",
	"shoes",
	"trash",
	"white-glass",
}

// labelCategory maps model classes to the bin they belong in. Anything not
// listed goes to trash.
var labelCategory = map[string]Category{
	"paper":     Paper,
	"cardboard": Paper,
	"metal":     Metal,
	"battery":   Metal,
	"plastic":   Plastic,
}

// tieOrder breaks equal scores: the first category listed wins.
var tieOrder = []Category{Paper, Metal, Plastic, Trash}

// Result is a classification with its per-category scores.
type Result struct {
	Category   Category
	Confidence float64
	Scores     map[Category]float64
	// Fallback is set when the top score was below the threshold.
	Fallback bool
}

// Aggregate sums per-class scores into categories and picks the best one.
// When the best category scores below threshold the result is Trash.
func Aggregate(labels []string, scores []float32, threshold float64) (Result, error) {
	if len(scores) < len(labels) {
		return Result{}, fmt.Errorf("%w: model returned %d scores for %d labels", ErrClassifier, len(scores), len(labels))
	}

	sums := make(map[Category]float64, len(Categories))
	for _, c := range Categories {
		sums[c] = 0
	}
	for i, label := range labels {
		c, ok := labelCategory[label]
		if !ok {
			c = Trash
		}
		sums[c] += float64(scores[i])
	}

	best := tieOrder[0]
	for _, c := range tieOrder[1:] {
		if sums[c] > sums[best] {
			best = c
		}
	}
	res := Result{Category: best, Confidence: sums[best], Scores: sums}
	if sums[best] < threshold {
		res.Category = Trash
		res.Fallback = true
	}
	return res, nil
}
