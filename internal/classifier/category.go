package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"recycling-sorter/internal/bins"
)

// ErrClassifier is returned when an image cannot be classified.
var ErrClassifier = errors.New("classification failed")

// Category is the material an item is sorted as. Trash is also the fallback
// for uncertain or failed classifications.
type Category int

const (
	Paper Category = iota
	Plastic
	Metal
	Trash
)

// Categories lists every category in one-hot order.
var Categories = []Category{Paper, Plastic, Metal, Trash}

// Bin returns the bin an item of this category goes into.
func (c Category) Bin() bins.ID {
	switch c {
	case Paper:
		return bins.Paper
	case Plastic:
		return bins.Plastic
	case Metal:
		return bins.Metal
	default:
		return bins.Trash
	}
}

func (c Category) String() string {
	return c.Bin().String()
}

// OneHot encodes the category as {paper, plastic, metal, trash} flags.
func (c Category) OneHot() map[string]int {
	out := make(map[string]int, len(Categories))
	for _, other := range Categories {
		v := 0
		if other == c {
			v = 1
		}
		out[other.String()] = v
	}
	return out
}

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paper":
		return Paper, nil
	case "plastic":
		return Plastic, nil
	case "metal":
		return Metal, nil
	case "trash":
		return Trash, nil
	}
	return Trash, fmt.Errorf("unknown category %q", s)
}

// Classifier assigns a category to a captured image.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (Category, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, imagePath string) (Category, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, imagePath string) (Category, error) {
	return f(ctx, imagePath)
}
