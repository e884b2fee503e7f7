// Package checkpoint persists job progress so a re-dispatched run of the same
// job skips shards whose workers already completed. Shard reads are
// idempotent, so re-running an incomplete worker is always safe.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Progress records which worker ordinals of a job have finished.
type Progress struct {
	JobID            string    `json:"job_id"`
	ProcessingDir    string    `json:"processing_dir"`
	CompletedWorkers []int     `json:"completed_workers"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Completed reports whether the worker ordinal already finished.
func (p *Progress) Completed(worker int) bool {
	for _, w := range p.CompletedWorkers {
		if w == worker {
			return true
		}
	}
	return false
}

// MarkCompleted records a finished worker ordinal.
func (p *Progress) MarkCompleted(worker int) {
	if p.Completed(worker) {
		return
	}
	p.CompletedWorkers = append(p.CompletedWorkers, worker)
	sort.Ints(p.CompletedWorkers)
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the progress for a processing directory.
	Load(ctx context.Context, processingDir string) (*Progress, error)

	// Save persists the progress.
	Save(ctx context.Context, p *Progress) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir}, nil
}

// fileManager persists progress to local JSON files, one per processing dir.
type fileManager struct {
	dir string
}

func (m *fileManager) path(processingDir string) string {
	name := strings.NewReplacer("/", "_", ":", "_").Replace(strings.Trim(processingDir, "/"))
	return filepath.Join(m.dir, fmt.Sprintf("progress_%s.json", name))
}

// Load reads the progress file for a processing directory.
func (m *fileManager) Load(ctx context.Context, processingDir string) (*Progress, error) {
	data, err := os.ReadFile(m.path(processingDir))
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &p, nil
}

// Save writes the progress atomically (temp file + rename).
func (m *fileManager) Save(ctx context.Context, p *Progress) error {
	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := m.path(p.ProcessingDir)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (noopManager) Load(context.Context, string) (*Progress, error) { return nil, ErrNoCheckpoint }
func (noopManager) Save(context.Context, *Progress) error           { return nil }
