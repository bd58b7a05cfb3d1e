package persistence

import (
	"database/sql"
	"time"
)

// Job is one transcription request tracked through its lifecycle,
// jobs table
type Job struct {
	ID               string
	FileName         string
	InputPath        string
	Language         string
	SpeakerLabels    bool
	SpeakersExpected int32
	Email            sql.NullString
	State            string
	Progress         sql.NullString
	ResultDocument   sql.NullString
	ResultMessage    sql.NullString
	SpeakerCount     sql.NullInt32
	// ResultDurations holds the per-speaker duration map as JSON
	ResultDurations sql.NullString
	ErrorClass      sql.NullString
	ErrorMessage    sql.NullString
	Created         time.Time
	Updated         time.Time
	TerminalAt      sql.NullTime
	Version         int32
}
