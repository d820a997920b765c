package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandDevice captures stills by running an external program such as
// rpicam-still. The placeholder "{output}" in Args is replaced with the
// destination path.
type CommandDevice struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Open checks that the capture program is available.
func (d *CommandDevice) Open(ctx context.Context) (Session, error) {
	path, err := exec.LookPath(d.Command)
	if err != nil {
		return nil, err
	}
	return &commandSession{path: path, device: d}, nil
}

type commandSession struct {
	path   string
	device *CommandDevice
}

func (s *commandSession) Capture(ctx context.Context, output string) error {
	if s.device.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.device.Timeout)
		defer cancel()
	}

	args := make([]string, len(s.device.Args))
	for i, a := range s.device.Args {
		args[i] = strings.ReplaceAll(a, "{output}", output)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.device.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *commandSession) Close() error { return nil }
