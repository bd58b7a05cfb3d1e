package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/zangari/transcrever/internal/pkg/document"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/filestore"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

// Input identifies the audio to process
type Input struct {
	ID        string
	FileName  string
	InputPath string
	Opts      eapi.Options
}

// Result is a finished pipeline run
type Result struct {
	Document         string
	Message          string
	SpeakerCount     *int
	SpeakerDurations map[string]float64
}

// Reporter receives progress checkpoints during a run.
// Failures to report never abort the pipeline
type Reporter interface {
	Progress(ctx context.Context, msg string) error
}

// Deps are pipeline collaborators
type Deps struct {
	Filer  Filer
	Engine eapi.Transcriber
	Doc    Doc
}

const (
	msgStarting  = "Starting transcription"
	msgSending   = "Sending audio to the transcription provider"
	msgBuilding  = "Building the document"
	msgFinishing = "Finalizing"
	msgDone      = "Transcrição concluída com sucesso"
)

// Execute runs the transcription pipeline for one job.
// The stored input audio is always dropped afterwards, also on failure
func Execute(ctx context.Context, inp *Input, d *Deps, r Reporter) (*Result, error) {
	report(ctx, r, inp.ID, msgStarting)
	f, err := d.Filer.LoadFile(ctx, inp.InputPath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, utils.NewInputNotFound(inp.InputPath)
		}
		return nil, fmt.Errorf("can't load input: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err := d.Filer.Delete(ctx, inp.InputPath); err != nil {
			goapp.Log.Warn().Err(err).Str("ID", inp.ID).Msg("can't drop input file")
		}
	}()

	report(ctx, r, inp.ID, msgSending)
	tr, err := d.Engine.Transcribe(ctx, f, inp.Opts)
	if err != nil {
		return nil, err
	}

	report(ctx, r, inp.ID, msgBuilding)
	out, err := d.Doc.Assemble(ctx, inp.ID, &document.Input{FileName: inp.FileName,
		SpeakerLabels: inp.Opts.SpeakerLabels, Result: tr})
	if err != nil {
		return nil, err
	}

	report(ctx, r, inp.ID, msgFinishing)
	return &Result{Document: out.Document, Message: msgDone, SpeakerCount: out.SpeakerCount,
		SpeakerDurations: out.SpeakerDurations}, nil
}

func report(ctx context.Context, r Reporter, id, msg string) {
	if err := r.Progress(ctx, msg); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't report progress")
	}
}

// Filer retrieves and drops stored audio
type Filer interface {
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
	Delete(ctx context.Context, name string) error
}

// Doc assembles the final document
type Doc interface {
	Assemble(ctx context.Context, id string, inp *document.Input) (*document.Output, error)
}
