package messages

import (
	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "TRANSCREVER/"
	// Process queue name - transcription jobs
	Process = st + "Process"
	// StatusChange queue name - job status change events
	StatusChange = st + "StatusChange"
	// Inform queue name - email notification events
	Inform = st + "Inform"
)

// ProcessMessage starts one transcription job
type ProcessMessage struct {
	amessages.QueueMessage
}

// NewProcessMessage creates a job message by ID
func NewProcessMessage(id string) *ProcessMessage {
	return &ProcessMessage{QueueMessage: amessages.QueueMessage{ID: id}}
}
