package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps artifacts under root/<job id>/<name>.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates root if needed.
func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{root: root, logger: logger}, nil
}

// Put writes through a temporary file and a rename so readers never see a
// partial artifact.
func (s *FSStore) Put(ctx context.Context, jobID, name string, data []byte) error {
	if err := validate(jobID, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}

	s.logger.Debug("Artifact stored",
		slog.String("job_id", jobID),
		slog.String("name", name),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (s *FSStore) Get(ctx context.Context, jobID, name string) ([]byte, error) {
	if err := validate(jobID, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, jobID, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (s *FSStore) List(ctx context.Context, jobID string) ([]string, error) {
	if err := validate(jobID, ""); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !namePattern.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSStore) DeleteJob(ctx context.Context, jobID string) error {
	if err := validate(jobID, ""); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, jobID)); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}
