package classifier

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
)

func scoresFor(values map[string]float32) []float32 {
	out := make([]float32, len(DefaultLabels))
	for i, l := range DefaultLabels {
		out[i] = values[l]
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		scores   map[string]float32
		want     Category
		fallback bool
	}{
		{"paper and cardboard add up", map[string]float32{"paper": 0.25, "cardboard": 0.25, "plastic": 0.4}, Paper, false},
		{"battery counts as metal", map[string]float32{"battery": 0.5, "plastic": 0.2}, Metal, false},
		{"glass and clothes are trash", map[string]float32{"green-glass": 0.3, "clothes": 0.3, "metal": 0.35}, Trash, false},
		{"plastic", map[string]float32{"plastic": 0.9}, Plastic, false},
		{"metal wins a tie with plastic", map[string]float32{"metal": 0.5, "plastic": 0.5}, Metal, false},
		{"paper wins a tie with metal", map[string]float32{"paper": 0.5, "battery": 0.5}, Paper, false},
		{"low confidence falls back", map[string]float32{"plastic": 0.29, "paper": 0.2}, Trash, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Aggregate(DefaultLabels, scoresFor(tt.scores), 0.3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Category)
			assert.Equal(t, tt.fallback, res.Fallback)
		})
	}
}

func TestAggregate_ShortOutput(t *testing.T) {
	_, err := Aggregate(DefaultLabels, []float32{1, 0}, 0.3)
	assert.ErrorIs(t, err, ErrClassifier)
}

func TestCategory_OneHotAndBin(t *testing.T) {
	assert.Equal(t, map[string]int{"paper": 0, "plastic": 0, "metal": 0, "trash": 1}, Trash.OneHot())
	assert.Equal(t, map[string]int{"paper": 0, "plastic": 1, "metal": 0, "trash": 0}, Plastic.OneHot())
	assert.Equal(t, bins.Metal, Metal.Bin())
	assert.Equal(t, "paper", Paper.String())

	c, err := ParseCategory("METAL")
	require.NoError(t, err)
	assert.Equal(t, Metal, c)
	_, err = ParseCategory("glass")
	assert.Error(t, err)
}

func TestPreprocess_LayoutAndNormalisation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	nhwc, scaled, err := Preprocess(img, 8, 4, 0.65, NHWC)
	require.NoError(t, err)
	require.Len(t, nhwc, 8*4*3)
	assert.Equal(t, image.Rect(0, 0, 8, 4), scaled.Bounds())
	assert.InDelta(t, 1.0, nhwc[0], 0.01)
	assert.InDelta(t, 0.0, nhwc[1], 0.01)
	assert.InDelta(t, 0.2, nhwc[2], 0.01)

	nchw, _, err := Preprocess(img, 8, 4, 0.65, NCHW)
	require.NoError(t, err)
	plane := 8 * 4
	assert.InDelta(t, 1.0, nchw[0], 0.01)
	assert.InDelta(t, 0.0, nchw[plane], 0.01)
	assert.InDelta(t, 0.2, nchw[2*plane], 0.01)

	assert.Equal(t, []int{1, 3, 4, 8}, NCHW.Shape(8, 4))
	assert.Equal(t, []int{1, 4, 8, 3}, NHWC.Shape(8, 4))
}

func TestPreprocess_RejectsTinyImages(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	_, _, err := Preprocess(img, 8, 8, 0.65, NHWC)
	assert.Error(t, err)
}

func TestLoadONNX_MissingModel(t *testing.T) {
	_, err := LoadONNX(config.ClassifierConfig{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")})
	assert.Error(t, err)
}

func TestFunc_Adapter(t *testing.T) {
	var c Classifier = Func(func(ctx context.Context, path string) (Category, error) {
		return Paper, nil
	})
	got, err := c.Classify(context.Background(), "x.jpg")
	require.NoError(t, err)
	assert.Equal(t, Paper, got)
}
