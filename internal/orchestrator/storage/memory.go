package storage

import (
	"context"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/visual-diff/internal/orchestrator/domain"
)

const shardCount = 32

type record struct {
	mu  sync.RWMutex
	job *domain.Job
}

type shard struct {
	mu      sync.RWMutex
	records map[string]*record
}

// MemoryStore is a sharded in-process job registry. The shard lock only
// guards membership; each record has its own lock so a worker updating one
// job never blocks readers of another.
type MemoryStore struct {
	shards [shardCount]*shard
	logger *slog.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStore{logger: logger, now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*record)}
	}
	return s
}

func (s *MemoryStore) shardFor(jobID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) lookup(jobID string) (*record, error) {
	sh := s.shardFor(jobID)
	sh.mu.RLock()
	rec, ok := sh.records[jobID]
	sh.mu.RUnlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return rec, nil
}

// update runs fn with the record's write lock held.
func (s *MemoryStore) update(jobID string, fn func(job *domain.Job) error) (*domain.Job, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := fn(rec.job); err != nil {
		return nil, err
	}
	rec.job.UpdatedAt = s.now()
	return rec.job.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	sh := s.shardFor(job.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.records[job.ID]; ok {
		return domain.ErrJobExists
	}
	sh.records[job.ID] = &record{job: job.Clone()}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	rec, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.job.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for _, sh := range s.shards {
		sh.mu.RLock()
		recs := make([]*record, 0, len(sh.records))
		for _, rec := range sh.records {
			recs = append(recs, rec)
		}
		sh.mu.RUnlock()

		for _, rec := range recs {
			rec.mu.RLock()
			job := rec.job
			if (filter.Status == "" || job.Status == filter.Status) && after(job, filter.Cursor) {
				jobs = append(jobs, job.Clone())
			}
			rec.mu.RUnlock()
		}
	}

	slices.SortFunc(jobs, func(a, b *domain.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (s *MemoryStore) Claim(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	job, err := s.update(jobID, func(job *domain.Job) error {
		if job.Status != domain.StatusQueued {
			return domain.ErrJobAlreadyClaimed
		}
		now := s.now()
		job.Status = domain.StatusProcessing
		job.Progress = domain.ProgressLoading
		job.WorkerID = workerID
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return job, nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, jobID, progress string) error {
	_, err := s.update(jobID, func(job *domain.Job) error {
		if job.Status != domain.StatusProcessing {
			return domain.ErrInvalidTransition
		}
		job.Progress = progress
		return nil
	})
	return err
}

func (s *MemoryStore) MarkAlignmentDegraded(_ context.Context, jobID string) error {
	_, err := s.update(jobID, func(job *domain.Job) error {
		if job.Status != domain.StatusProcessing {
			return domain.ErrInvalidTransition
		}
		job.AlignmentDegraded = true
		return nil
	})
	return err
}

func (s *MemoryStore) Complete(_ context.Context, jobID string, result *domain.Result) error {
	_, err := s.update(jobID, func(job *domain.Job) error {
		if !job.Status.CanTransition(domain.StatusCompleted) {
			return domain.ErrInvalidTransition
		}
		now := s.now()
		job.Status = domain.StatusCompleted
		job.Progress = domain.ProgressDone
		job.Result = result.Clone()
		job.FinishedAt = &now
		return nil
	})
	return err
}

func (s *MemoryStore) Fail(_ context.Context, jobID, message string) error {
	_, err := s.update(jobID, func(job *domain.Job) error {
		return failJob(job, message, s.now())
	})
	return err
}

func (s *MemoryStore) RequestCancel(_ context.Context, jobID string) (*domain.Job, error) {
	return s.update(jobID, func(job *domain.Job) error {
		switch job.Status {
		case domain.StatusQueued:
			return failJob(job, domain.ErrJobCanceled.Error(), s.now())
		case domain.StatusProcessing:
			job.CancelRequested = true
			return nil
		}
		return domain.ErrInvalidTransition
	})
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	sh := s.shardFor(jobID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	rec.mu.RLock()
	terminal := rec.job.Status.IsTerminal()
	rec.mu.RUnlock()
	if !terminal {
		return domain.ErrJobNotTerminal
	}
	delete(sh.records, jobID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func failJob(job *domain.Job, message string, now time.Time) error {
	if !job.Status.CanTransition(domain.StatusFailed) {
		return domain.ErrInvalidTransition
	}
	if message == "" {
		message = "unknown error"
	}
	job.Status = domain.StatusFailed
	job.Error = message
	job.FinishedAt = &now
	if message == domain.ErrJobCanceled.Error() {
		job.Progress = domain.ProgressCanceled
	} else {
		job.Progress = domain.ProgressFailed
	}
	return nil
}
