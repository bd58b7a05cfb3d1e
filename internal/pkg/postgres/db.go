package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zangari/transcrever/internal/pkg/persistence"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

// InsertJob inserts a new job into DB
func (db *DB) InsertJob(ctx context.Context, job *persistence.Job) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO jobs(id, file_name, input_path, language,
	speaker_labels, speakers_expected, email, state, created, updated)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, job.ID, job.FileName, job.InputPath,
		job.Language, job.SpeakerLabels, job.SpeakersExpected, job.Email, job.State,
		job.Created, job.Updated,
	)
	if err != nil {
		return fmt.Errorf("can't insert job: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadJob loads a job from DB, returns nil if there is no such job
func (db *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	var res persistence.Job
	err := db.pool.QueryRow(ctx, `SELECT id, file_name, input_path, language, speaker_labels,
	speakers_expected, email, state, progress, result_document, result_message, speaker_count,
	result_durations, error_class, error_message, created, updated, terminal_at, version FROM jobs
		WHERE id = $1`, id).Scan(&res.ID, &res.FileName, &res.InputPath, &res.Language,
		&res.SpeakerLabels, &res.SpeakersExpected, &res.Email, &res.State, &res.Progress,
		&res.ResultDocument, &res.ResultMessage, &res.SpeakerCount, &res.ResultDurations,
		&res.ErrorClass, &res.ErrorMessage, &res.Created, &res.Updated, &res.TerminalAt, &res.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	return &res, nil
}

// UpdateJob updates job state in DB, fails if the row version moved on
func (db *DB) UpdateJob(ctx context.Context, job *persistence.Job) error {
	rows, err := db.pool.Exec(ctx, `UPDATE jobs SET
	state = $3,
	progress = $4,
	result_document = $5,
	result_message = $6,
	speaker_count = $7,
	result_durations = $8,
	error_class = $9,
	error_message = $10,
	terminal_at = $11,
	updated = $12,
	version = $2 + 1
	WHERE id = $1 and version = $2`, job.ID, job.Version, job.State,
		job.Progress, job.ResultDocument, job.ResultMessage, job.SpeakerCount,
		job.ResultDurations, job.ErrorClass, job.ErrorMessage, job.TerminalAt, time.Now())
	if err != nil {
		return fmt.Errorf("can't update job: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update job, no records found")
	}
	return nil
}

// DeleteJob drops the job row, used to roll back a failed submission
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("can't delete job: %w", err)
	}
	return nil
}

// LockEmailTable marks email sending attempt for ID, key
func (db *DB) LockEmailTable(ctx context.Context, id, key string) error {
	rows, err := db.pool.Exec(ctx, `INSERT INTO email_lock(id, key, status) VALUES($1, $2, 1)
	ON CONFLICT (id, key) DO UPDATE SET status = 1 WHERE email_lock.status = 0`, id, key)
	if err != nil {
		return fmt.Errorf("can't lock email table: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't lock email table, already locked")
	}
	return nil
}

// UnLockEmailTable drops the lock or keeps the row when the email went out (value == 2)
func (db *DB) UnLockEmailTable(ctx context.Context, id, key string, value *int) error {
	var err error
	if value != nil && *value == 2 {
		_, err = db.pool.Exec(ctx, `UPDATE email_lock SET status = 2 WHERE id = $1 and key = $2`, id, key)
	} else {
		_, err = db.pool.Exec(ctx, `UPDATE email_lock SET status = 0 WHERE id = $1 and key = $2`, id, key)
	}
	if err != nil {
		return fmt.Errorf("can't unlock email table: %w", err)
	}
	return nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
