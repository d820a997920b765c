package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// File names read by an out-of-process display.
const (
	ClassificationFile = "classification_result.txt"
	BinStatusFile      = "bin_status.txt"
	SensorFile         = "sensor_data.txt"
)

// FileMirror writes snapshots to files so a display running as a separate
// process can poll them. Each file is replaced atomically.
type FileMirror struct {
	dir string

	mu   sync.Mutex
	last map[string][]byte
}

// NewFileMirror writes into dir, creating it if needed.
func NewFileMirror(dir string) (*FileMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	return &FileMirror{dir: dir, last: make(map[string][]byte)}, nil
}

// Observe is a snapshot Observer. Write errors are logged.
func (m *FileMirror) Observe(s *Snapshot) {
	if err := m.Write(s); err != nil {
		log.Printf("snapshot mirror: %v", err)
	}
}

// Write mirrors the snapshot, skipping files whose content is unchanged.
func (m *FileMirror) Write(s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Classification != nil {
		if err := m.replace(ClassificationFile, []byte(s.Classification.String())); err != nil {
			return err
		}
	}

	status, err := json.Marshal(s.BinStatus.JSON())
	if err != nil {
		return err
	}
	if err := m.replace(BinStatusFile, status); err != nil {
		return err
	}

	if s.HasClimate {
		climate, err := json.Marshal(struct {
			Temperature float64 `json:"temperature"`
			Humidity    float64 `json:"humidity"`
		}{s.Temperature, s.Humidity})
		if err != nil {
			return err
		}
		if err := m.replace(SensorFile, climate); err != nil {
			return err
		}
	}
	return nil
}

func (m *FileMirror) replace(name string, data []byte) error {
	if prev, ok := m.last[name]; ok && string(prev) == string(data) {
		return nil
	}
	tmp, err := os.CreateTemp(m.dir, name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(m.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	m.last[name] = data
	return nil
}
