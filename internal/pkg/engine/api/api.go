package api

import (
	"context"
	"io"
)

// Options are transcription parameters passed to the provider
type Options struct {
	Language         string
	SpeakerLabels    bool
	SpeakersExpected int
}

// Utterance is one diarized fragment of the transcript
type Utterance struct {
	Speaker string
	StartMs int
	EndMs   int
	Text    string
}

// TranscriptResult is the provider output
type TranscriptResult struct {
	Text       string
	Utterances []Utterance
}

// Transcriber runs audio through a speech to text provider
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, opts Options) (*TranscriptResult, error)
}
