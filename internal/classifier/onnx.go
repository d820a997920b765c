package classifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"gorgonia.org/tensor"

	"recycling-sorter/config"
)

// ONNX classifies images with an ONNX model evaluated by the gorgonia backend.
// The graph is not safe for concurrent runs, so calls are serialised.
type ONNX struct {
	mu      sync.Mutex
	backend *gorgonnx.Graph
	model   *onnx.Model

	width, height int
	layout        Layout
	crop          float64
	threshold     float64
	labels        []string
	croppedPath   string
}

// LoadONNX reads and decodes the model file.
func LoadONNX(cfg config.ClassifierConfig) (*ONNX, error) {
	b, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", cfg.ModelPath, err)
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return &ONNX{
		backend:     backend,
		model:       model,
		width:       cfg.InputWidth,
		height:      cfg.InputHeight,
		layout:      Layout(cfg.Layout),
		crop:        cfg.CropFraction,
		threshold:   cfg.Threshold,
		labels:      labels,
		croppedPath: cfg.CroppedPath,
	}, nil
}

// Classify returns the category of the item in the image.
func (c *ONNX) Classify(ctx context.Context, imagePath string) (Category, error) {
	res, err := c.Predict(ctx, imagePath)
	if err != nil {
		return Trash, err
	}
	return res.Category, nil
}

// Predict runs the model and returns the aggregated scores.
func (c *ONNX) Predict(ctx context.Context, imagePath string) (Result, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	data, scaled, err := Preprocess(img, c.width, c.height, c.crop, c.layout)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	if c.croppedPath != "" {
		if err := imaging.Save(scaled, c.croppedPath); err != nil {
			log.Printf("classifier: save %s: %v", c.croppedPath, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}

	scores, err := c.run(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	return Aggregate(c.labels, scores, c.threshold)
}

func (c *ONNX) run(data []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input := tensor.New(
		tensor.WithShape(c.layout.Shape(c.width, c.height)...),
		tensor.WithBacking(data),
	)
	if err := c.model.SetInput(0, input); err != nil {
		return nil, fmt.Errorf("set input: %w", err)
	}
	if err := c.backend.Run(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	outputs, err := c.model.GetOutputTensors()
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	scores, ok := outputs[0].Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0].Data())
	}
	return scores, nil
}

// CroppedPath is where the last model input image is saved, if anywhere.
func (c *ONNX) CroppedPath() string {
	return c.croppedPath
}
