package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
	"github.com/cuongbtq/visual-diff/shared/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewSQLStore(client.GetDB(), testLogger())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(testLogger()),
		"sqlite": newSQLiteStore(t),
	}
}

func newJob(created time.Time) *domain.Job {
	return &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.StatusQueued,
		Progress:  domain.ProgressQueued,
		CreatedAt: created,
		UpdatedAt: created,
		Metadata:  map[string]any{"vehicle": "car-44"},
		ROI:       &domain.BBox{X0: 1, Y0: 2, X1: 30, Y1: 40},
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newJob(time.Now())
			require.NoError(t, store.Create(ctx, job))
			assert.ErrorIs(t, store.Create(ctx, job), domain.ErrJobExists)

			got, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusQueued, got.Status)
			assert.Equal(t, "car-44", got.Metadata["vehicle"])
			assert.Equal(t, job.ROI, got.ROI)

			assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "x"), domain.ErrInvalidTransition)
			assert.ErrorIs(t, store.Complete(ctx, job.ID, &domain.Result{}), domain.ErrInvalidTransition)

			claimed, err := store.Claim(ctx, job.ID, "worker-1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, claimed.Status)
			assert.Equal(t, "worker-1", claimed.WorkerID)
			assert.NotNil(t, claimed.StartedAt)

			_, err = store.Claim(ctx, job.ID, "worker-2")
			assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

			require.NoError(t, store.UpdateProgress(ctx, job.ID, domain.ProgressAligning))
			got, err = store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.ProgressAligning, got.Progress)

			assert.ErrorIs(t, store.Delete(ctx, job.ID), domain.ErrJobNotTerminal)

			result := &domain.Result{
				NumChanges: 1,
				Regions: []domain.Region{{
					ID: 1, BBox: domain.BBox{X0: 80, Y0: 20, X1: 100, Y1: 40}, Area: 400,
					ChangeConfidence: 170, ClassifiedLabel: "Sidepod",
					Alternatives: []domain.Label{{Label: "Halo", Confidence: 0.1}},
				}},
				Artifacts: []string{"metadata"},
			}
			require.NoError(t, store.Complete(ctx, job.ID, result))

			got, err = store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, got.Status)
			assert.Equal(t, domain.ProgressDone, got.Progress)
			require.NotNil(t, got.Result)
			assert.Equal(t, result.Regions, got.Result.Regions)
			assert.NotNil(t, got.FinishedAt)

			// terminal: nothing moves any more
			assert.ErrorIs(t, store.Fail(ctx, job.ID, "late"), domain.ErrInvalidTransition)
			assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "late"), domain.ErrInvalidTransition)
			_, err = store.RequestCancel(ctx, job.ID)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)

			require.NoError(t, store.Delete(ctx, job.ID))
			_, err = store.Get(ctx, job.ID)
			assert.ErrorIs(t, err, domain.ErrJobNotFound)
			assert.ErrorIs(t, store.Delete(ctx, job.ID), domain.ErrJobNotFound)
		})
	}
}

func TestStore_Fail(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newJob(time.Now())
			require.NoError(t, store.Create(ctx, job))
			_, err := store.Claim(ctx, job.ID, "w")
			require.NoError(t, err)

			require.NoError(t, store.Fail(ctx, job.ID, "load: baseline image: undecodable image"))
			got, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, got.Status)
			assert.Equal(t, "load: baseline image: undecodable image", got.Error)
			assert.Nil(t, got.Result)

			assert.ErrorIs(t, store.Fail(ctx, uuid.NewString(), "x"), domain.ErrJobNotFound)
			_, err = store.Claim(ctx, uuid.NewString(), "w")
			assert.ErrorIs(t, err, domain.ErrJobNotFound)
		})
	}
}

func TestStore_MarkAlignmentDegraded(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newJob(time.Now())
			require.NoError(t, store.Create(ctx, job))
			assert.ErrorIs(t, store.MarkAlignmentDegraded(ctx, job.ID), domain.ErrInvalidTransition)

			_, err := store.Claim(ctx, job.ID, "w")
			require.NoError(t, err)
			got, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.False(t, got.AlignmentDegraded)

			require.NoError(t, store.MarkAlignmentDegraded(ctx, job.ID))
			got, err = store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.True(t, got.AlignmentDegraded)
			assert.Equal(t, domain.StatusProcessing, got.Status)

			require.NoError(t, store.Complete(ctx, job.ID, &domain.Result{}))
			got, err = store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.True(t, got.AlignmentDegraded)

			assert.ErrorIs(t, store.MarkAlignmentDegraded(ctx, uuid.NewString()), domain.ErrJobNotFound)
		})
	}
}

func TestStore_RequestCancel(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			queued := newJob(time.Now())
			require.NoError(t, store.Create(ctx, queued))
			got, err := store.RequestCancel(ctx, queued.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, got.Status)
			assert.Equal(t, "canceled", got.Error)
			assert.Equal(t, domain.ProgressCanceled, got.Progress)

			running := newJob(time.Now())
			require.NoError(t, store.Create(ctx, running))
			_, err = store.Claim(ctx, running.ID, "w")
			require.NoError(t, err)
			got, err = store.RequestCancel(ctx, running.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, got.Status)
			assert.True(t, got.CancelRequested)

			_, err = store.RequestCancel(ctx, uuid.NewString())
			assert.ErrorIs(t, err, domain.ErrJobNotFound)
		})
	}
}

func TestStore_ListPagination(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0).UTC()

			var ids []string
			for i := 0; i < 5; i++ {
				job := newJob(base.Add(time.Duration(i) * time.Second))
				require.NoError(t, store.Create(ctx, job))
				ids = append(ids, job.ID)
			}
			_, err := store.Claim(ctx, ids[4], "w")
			require.NoError(t, err)

			page, err := store.List(ctx, Filter{PageSize: 2})
			require.NoError(t, err)
			require.Len(t, page, 3)
			assert.Equal(t, ids[4], page[0].ID)
			assert.Equal(t, ids[3], page[1].ID)

			last := page[1]
			page, err = store.List(ctx, Filter{PageSize: 2, Cursor: &Cursor{CreatedAt: last.CreatedAt, JobID: last.ID}})
			require.NoError(t, err)
			require.Len(t, page, 3)
			assert.Equal(t, ids[2], page[0].ID)

			page, err = store.List(ctx, Filter{Status: domain.StatusProcessing, PageSize: 10})
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, ids[4], page[0].ID)
		})
	}
}

func TestMemoryStore_ConcurrentClaim(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()
	job := newJob(time.Now())
	require.NoError(t, store.Create(ctx, job))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Claim(ctx, job.ID, fmt.Sprintf("w-%d", i)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()
	job := newJob(time.Now())
	require.NoError(t, store.Create(ctx, job))

	job.Metadata["vehicle"] = "mutated"
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	got.Status = domain.StatusCompleted

	again, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "car-44", again.Metadata["vehicle"])
	assert.Equal(t, domain.StatusQueued, again.Status)
}
