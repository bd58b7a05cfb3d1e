package clean

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/zangari/transcrever/internal/pkg/persistence"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

// JobDB loads job rows for cleaning
type JobDB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
}

// FileCleaner drops stored files
type FileCleaner interface {
	Delete(ctx context.Context, name string) error
	Clean(ctx context.Context, id string) error
}

// JobCleaner removes the files of one job from the store.
// The result document is saved under its own name, not the job ID,
// so it has to be resolved from the job row first.
type JobCleaner struct {
	db    JobDB
	store FileCleaner
}

// NewJobCleaner creates the cleaner instance
func NewJobCleaner(db JobDB, store FileCleaner) (*JobCleaner, error) {
	if db == nil {
		return nil, fmt.Errorf("no db")
	}
	if store == nil {
		return nil, fmt.Errorf("no store")
	}
	return &JobCleaner{db: db, store: store}, nil
}

// Clean drops the result document and the uploaded input of the job
func (c *JobCleaner) Clean(ctx context.Context, id string) error {
	job, err := c.db.LoadJob(ctx, id)
	if err != nil {
		return fmt.Errorf("can't load job %s: %w", id, err)
	}
	if job != nil {
		if doc := utils.FromSQLStr(job.ResultDocument); doc != "" {
			if err := c.store.Delete(ctx, doc); err != nil {
				return fmt.Errorf("can't delete %s: %w", doc, err)
			}
			goapp.Log.Info().Str("ID", id).Str("file", doc).Msg("deleted document")
		}
	}
	if err := c.store.Clean(ctx, id); err != nil {
		return fmt.Errorf("can't clean files of %s: %w", id, err)
	}
	return nil
}
