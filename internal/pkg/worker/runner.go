package worker

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
)

// InlineRunner executes the pipeline in-process, progress goes to the log only
type InlineRunner struct {
	deps *Deps
}

// NewInlineRunner creates a runner over the pipeline deps
func NewInlineRunner(deps *Deps) (*InlineRunner, error) {
	if deps == nil || deps.Filer == nil || deps.Engine == nil || deps.Doc == nil {
		return nil, fmt.Errorf("no pipeline deps")
	}
	return &InlineRunner{deps: deps}, nil
}

// Run executes one job synchronously
func (r *InlineRunner) Run(ctx context.Context, inp *Input) (*Result, error) {
	return Execute(ctx, inp, r.deps, logReporter{id: inp.ID})
}

type logReporter struct {
	id string
}

func (r logReporter) Progress(ctx context.Context, msg string) error {
	goapp.Log.Info().Str("ID", r.id).Str("progress", msg).Msg("inline")
	return nil
}
