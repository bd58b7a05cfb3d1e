package mocks

import (
	"context"
	"io"

	"github.com/airenas/async-api/pkg/inform"
	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/mock"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/persistence"
)

// Filer is file storage mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader) error {
	args := m.Called(ctx, name, r)
	return args.Error(0)
}

// LoadFile func mock
func (m *Filer) LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, name)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

func (m *Filer) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *Filer) Clean(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) InsertJob(ctx context.Context, job *persistence.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) UpdateJob(ctx context.Context, job *persistence.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *DB) DeleteJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *DB) Live(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *DB) LockEmailTable(ctx context.Context, id, key string) error {
	args := m.Called(ctx, id, key)
	return args.Error(0)
}

func (m *DB) UnLockEmailTable(ctx context.Context, id, key string, value *int) error {
	args := m.Called(ctx, id, key, value)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg amessages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Engine is transcription provider mock
type Engine struct{ mock.Mock }

func (m *Engine) Transcribe(ctx context.Context, audio io.Reader, opts eapi.Options) (*eapi.TranscriptResult, error) {
	args := m.Called(ctx, audio, opts)
	return to[*eapi.TranscriptResult](args.Get(0)), args.Error(1)
}

// EmailMaker is email builder mock
type EmailMaker struct{ mock.Mock }

func (m *EmailMaker) Make(data *inform.Data) (*email.Email, error) {
	args := m.Called(data)
	return to[*email.Email](args.Get(0)), args.Error(1)
}

// EmailSender is smtp client mock
type EmailSender struct{ mock.Mock }

func (m *EmailSender) Send(email *email.Email) error {
	args := m.Called(email)
	return args.Error(0)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
