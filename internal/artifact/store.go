// Package artifact persists the named per-job outputs of the pipeline (images
// and the metadata record) and the uploaded inputs.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the artifact does not exist and will not appear
	ErrNotFound = errors.New("artifact not found")

	// ErrNotReady means the job is still running and may still produce the artifact
	ErrNotReady = errors.New("artifact not ready")

	// ErrInvalidKey is returned for job ids or names that cannot be stored
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store is the ArtifactStore collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(ctx context.Context, jobID, name string, data []byte) error
	// Get returns ErrNotFound when nothing is stored under name
	Get(ctx context.Context, jobID, name string) ([]byte, error)
	List(ctx context.Context, jobID string) ([]string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func validate(jobID, name string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("%w: job id %q", ErrInvalidKey, jobID)
	}
	if name != "" && !namePattern.MatchString(name) {
		return fmt.Errorf("%w: name %q", ErrInvalidKey, name)
	}
	return nil
}
