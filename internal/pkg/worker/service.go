package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/messages"
	"github.com/zangari/transcrever/internal/pkg/persistence"
	"github.com/zangari/transcrever/internal/pkg/status"
	"github.com/zangari/transcrever/internal/pkg/utils"
	"github.com/zangari/transcrever/internal/pkg/utils/handler"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB provides job persistence
type DB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	UpdateJob(ctx context.Context, job *persistence.Job) error
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	MsgSender   MsgSender
	DB          DB
	Pipeline    *Deps
	Testing     bool
}

// StartWorkerService starts the event queue listener service to listen for transcription jobs
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	wm := gue.WorkMap{
		// a transcription is too expensive to rerun blindly, so no retries,
		// the failure is recorded into the job row instead
		messages.Process: handler.Create(data, handleProcess,
			handler.DefaultOpts[messages.ProcessMessage]().WithFailure(handler.NoRetry[messages.ProcessMessage]()).
				WithTimeout(time.Minute*120).WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Process),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("transcrever-worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func handleProcess(ctx context.Context, m *messages.ProcessMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling job")
	job, err := data.DB.LoadJob(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		goapp.Log.Warn().Str("ID", m.ID).Msg("job gone, skip")
		return nil
	}
	if status.From(job.State).Terminal() {
		goapp.Log.Warn().Str("ID", m.ID).Str("state", job.State).Msg("job already finished, skip")
		return nil
	}

	inp := &Input{ID: job.ID, FileName: job.FileName, InputPath: job.InputPath, Opts: jobOptions(job)}
	res, errRun := Execute(ctx, inp, data.Pipeline, &dbReporter{data: data, id: job.ID})

	job, err = data.DB.LoadJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		goapp.Log.Warn().Str("ID", m.ID).Msg("job gone, skip")
		return nil
	}
	if errRun != nil {
		goapp.Log.Error().Err(errRun).Str("ID", job.ID).Msg("job failed")
		job.State = status.Failure.String()
		job.ErrorClass = utils.ToSQLStr(utils.ErrorClass(errRun))
		job.ErrorMessage = utils.ToSQLStr(errRun.Error())
	} else {
		job.State = status.Success.String()
		job.ResultDocument = utils.ToSQLStr(res.Document)
		job.ResultMessage = utils.ToSQLStr(res.Message)
		if res.SpeakerCount != nil {
			job.SpeakerCount = sql.NullInt32{Int32: int32(*res.SpeakerCount), Valid: true}
		}
		if len(res.SpeakerDurations) > 0 {
			b, err := json.Marshal(res.SpeakerDurations)
			if err != nil {
				return fmt.Errorf("can't marshal durations: %w", err)
			}
			job.ResultDurations = utils.ToSQLStr(string(b))
		}
		job.Progress = utils.ToSQLStr(msgFinishing)
	}
	job.TerminalAt = sql.NullTime{Time: time.Now(), Valid: true}
	if err := data.DB.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("can't save job: %w", err)
	}
	if err := data.MsgSender.SendMessage(ctx, messages.NewProcessMessage(job.ID), messages.StatusChange); err != nil {
		return fmt.Errorf("can't send msg: %w", err)
	}
	if err := data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
		Type:         informType(errRun), At: time.Now()}, messages.Inform); err != nil {
		return fmt.Errorf("can't send msg: %w", err)
	}
	goapp.Log.Info().Str("ID", job.ID).Str("state", job.State).Msg("job finished")
	return nil
}

func informType(err error) string {
	if err == nil {
		return amessages.InformTypeFinished
	}
	return amessages.InformTypeFailed
}

func jobOptions(job *persistence.Job) eapi.Options {
	return eapi.Options{Language: job.Language, SpeakerLabels: job.SpeakerLabels,
		SpeakersExpected: int(job.SpeakersExpected)}
}

// dbReporter writes progress checkpoints into the job row
// and notifies status listeners
type dbReporter struct {
	data *ServiceData
	id   string
}

func (r *dbReporter) Progress(ctx context.Context, msg string) error {
	job, err := r.data.DB.LoadJob(ctx, r.id)
	if err != nil {
		return fmt.Errorf("can't load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job gone")
	}
	// never move a finished job back
	if status.From(job.State).Sequence() > status.Progress.Sequence() {
		goapp.Log.Warn().Str("ID", r.id).Str("state", job.State).Msg("job finished, skip progress")
		return nil
	}
	job.State = status.Progress.String()
	job.Progress = utils.ToSQLStr(msg)
	if err := r.data.DB.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("can't save job: %w", err)
	}
	return r.data.MsgSender.SendMessage(ctx, messages.NewProcessMessage(r.id), messages.StatusChange)
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Pipeline == nil || data.Pipeline.Filer == nil || data.Pipeline.Engine == nil || data.Pipeline.Doc == nil {
		return fmt.Errorf("no pipeline deps")
	}
	return nil
}
