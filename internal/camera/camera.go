package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/disintegration/imaging"
)

// ErrCamera is returned when a frame cannot be captured.
var ErrCamera = errors.New("camera capture failed")

// Device is a camera that must be acquired before capturing.
type Device interface {
	Open(ctx context.Context) (Session, error)
}

// Session is an acquired camera. Close releases it.
type Session interface {
	// Capture writes one still frame to path.
	Capture(ctx context.Context, path string) error
	Close() error
}

// Capturer takes a single corrected frame per call. The camera is mounted
// upside down, so every frame is rotated 180 degrees before it is stored.
type Capturer struct {
	device    Device
	imagePath string
}

// NewCapturer stores frames at imagePath.
func NewCapturer(device Device, imagePath string) *Capturer {
	return &Capturer{device: device, imagePath: imagePath}
}

// Capture acquires the camera, takes a frame and stores the corrected image.
// It returns the path of the stored image. The camera is released on every
// path.
func (c *Capturer) Capture(ctx context.Context) (path string, err error) {
	sess, err := c.device.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: open: %v", ErrCamera, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Printf("camera: release: %v", cerr)
		}
	}()

	if err := sess.Capture(ctx, c.imagePath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCamera, err)
	}
	if err := Orient(c.imagePath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCamera, err)
	}
	return c.imagePath, nil
}

// Orient rotates the image at path by 180 degrees in place.
func Orient(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if err := imaging.Save(Rotate180(img), path); err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	return nil
}

// Rotate180 flips the image vertically and horizontally.
func Rotate180(img image.Image) *image.NRGBA {
	return imaging.FlipH(imaging.FlipV(img))
}
