package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zangari/transcrever/internal/pkg/api"
	"github.com/zangari/transcrever/internal/pkg/filestore"
	"github.com/zangari/transcrever/internal/pkg/messages"
	"github.com/zangari/transcrever/internal/pkg/persistence"
	"github.com/zangari/transcrever/internal/pkg/status"
	"github.com/zangari/transcrever/internal/pkg/test"
	"github.com/zangari/transcrever/internal/pkg/test/mocks"
	"github.com/zangari/transcrever/internal/pkg/utils"
	"github.com/zangari/transcrever/internal/pkg/worker"
)

var (
	filerMock     *mocks.Filer
	dbMock        *mocks.DB
	senderMock    *mocks.Sender
	runnerMock    *mockRunner
	wsHandlerMock *mockWSConnHandler
	tData         *Data
	tEcho         *echo.Echo
)

func initTest(t *testing.T) {
	filerMock = &mocks.Filer{}
	dbMock = &mocks.DB{}
	senderMock = &mocks.Sender{}
	runnerMock = &mockRunner{}
	wsHandlerMock = &mockWSConnHandler{}
	tData = &Data{Filer: filerMock, DB: dbMock, MsgSender: senderMock, Runner: runnerMock,
		WSHandler: wsHandlerMock}
	tEcho = initRoutes(tData)
	filerMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	filerMock.On("LoadFile", mock.Anything, mock.Anything).Return(newTestFile("doc content"), nil)
	dbMock.On("InsertJob", mock.Anything, mock.Anything).Return(nil)
	dbMock.On("DeleteJob", mock.Anything, mock.Anything).Return(nil)
	dbMock.On("Live", mock.Anything).Return(nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	runnerMock.On("Run", mock.Anything, mock.Anything).
		Return(&worker.Result{Document: "transcricao_1.txt", Message: "ok"}, nil)
}

func initInlineTest(t *testing.T) {
	initTest(t)
	tData = &Data{Filer: filerMock, Runner: runnerMock}
	tEcho = initRoutes(tData)
}

func newSubmitReq(t *testing.T, params map[string]string, fileName string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if fileName != "" {
		part, err := w.CreateFormFile(api.PrmFile, fileName)
		require.Nil(t, err)
		_, err = part.Write([]byte("audio data"))
		require.Nil(t, err)
	}
	for k, v := range params {
		require.Nil(t, w.WriteField(k, v))
	}
	require.Nil(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPut, "/transcribe", nil)
	test.Code(t, tEcho, req, 405)
}

func Test_Submit_Async(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, map[string]string{api.PrmLanguage: "pt"}, "olia.wav")

	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.SubmitResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.TaskID)
	assert.Equal(t, "processing", res.Status)
	require.Equal(t, 1, len(dbMock.Calls))
	job := dbMock.Calls[0].Arguments[1].(*persistence.Job)
	assert.Equal(t, status.Pending.String(), job.State)
	assert.Equal(t, "olia.wav", job.FileName)
	assert.Equal(t, "pt", job.Language)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.Process, senderMock.Calls[0].Arguments[2])
	runnerMock.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func Test_Submit_RootPath(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, nil, "olia.wav")
	req.URL.Path = "/"
	test.Code(t, tEcho, req, http.StatusOK)
}

func Test_Submit_DefaultLanguage(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, nil, "olia.wav")

	test.Code(t, tEcho, req, http.StatusOK)

	job := dbMock.Calls[0].Arguments[1].(*persistence.Job)
	assert.Equal(t, "pt", job.Language)
}

func Test_Submit_DefaultSpeakersExpected(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, map[string]string{api.PrmSpeakerLabels: "true"}, "olia.wav")

	test.Code(t, tEcho, req, http.StatusOK)

	job := dbMock.Calls[0].Arguments[1].(*persistence.Job)
	assert.True(t, job.SpeakerLabels)
	assert.Equal(t, int32(5), job.SpeakersExpected)
}

func Test_Submit_NoSpeakersHintWithoutLabels(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, nil, "olia.wav")

	test.Code(t, tEcho, req, http.StatusOK)

	job := dbMock.Calls[0].Arguments[1].(*persistence.Job)
	assert.False(t, job.SpeakerLabels)
	assert.Equal(t, int32(0), job.SpeakersExpected)
}

func Test_Submit_PassesOptions(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, map[string]string{api.PrmSpeakerLabels: "true",
		api.PrmSpeakersExpected: "3", api.PrmEmail: "olia@olia.lt"}, "olia.mp3")

	test.Code(t, tEcho, req, http.StatusOK)

	job := dbMock.Calls[0].Arguments[1].(*persistence.Job)
	assert.True(t, job.SpeakerLabels)
	assert.Equal(t, int32(3), job.SpeakersExpected)
	assert.Equal(t, "olia@olia.lt", job.Email.String)
}

func Test_Submit_NoFile(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, map[string]string{api.PrmLanguage: "pt"}, "")
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func Test_Submit_WrongExtension(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, nil, "olia.pdf")
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func Test_Submit_UnknownParam(t *testing.T) {
	initTest(t)
	req := newSubmitReq(t, map[string]string{"olia": "olia"}, "olia.wav")
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func Test_Submit_WrongSpeakersExpected(t *testing.T) {
	initTest(t)
	for _, v := range []string{"olia", "0", "-1"} {
		req := newSubmitReq(t, map[string]string{api.PrmSpeakersExpected: v}, "olia.wav")
		test.Code(t, tEcho, req, http.StatusBadRequest)
	}
}

func Test_Submit_EnqueueFails_FallsBackInline(t *testing.T) {
	initTest(t)
	senderMock.ExpectedCalls = nil
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("queue down"))

	req := newSubmitReq(t, nil, "olia.wav")
	resp := test.Code(t, tEcho, req, http.StatusOK)

	// the submission row is rolled back and the run happens in-process
	dbMock.AssertCalled(t, "DeleteJob", mock.Anything, mock.Anything)
	runnerMock.AssertCalled(t, "Run", mock.Anything, mock.Anything)
	assert.Equal(t, "inline", resp.Header().Get("X-Execution-Mode"))
	assert.Equal(t, "true", resp.Header().Get("X-Fallback"))
	assert.Equal(t, "doc content", test.RStr(t, resp.Body))
}

func Test_Submit_Inline(t *testing.T) {
	initInlineTest(t)
	req := newSubmitReq(t, nil, "olia.wav")

	resp := test.Code(t, tEcho, req, http.StatusOK)

	runnerMock.AssertCalled(t, "Run", mock.Anything, mock.Anything)
	assert.Equal(t, "inline", resp.Header().Get("X-Execution-Mode"))
	assert.Equal(t, "", resp.Header().Get("X-Fallback"))
	assert.Equal(t, "attachment; filename=transcricao_1.txt", resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "doc content", test.RStr(t, resp.Body))
	inp := runnerMock.Calls[0].Arguments[1].(*worker.Input)
	assert.Equal(t, "olia.wav", inp.FileName)
	assert.Contains(t, inp.InputPath, "_olia.wav")
}

func Test_Submit_Inline_Fails(t *testing.T) {
	initInlineTest(t)
	runnerMock.ExpectedCalls = nil
	runnerMock.On("Run", mock.Anything, mock.Anything).Return(nil, utils.NewProvider("provider down", nil))

	req := newSubmitReq(t, nil, "olia.wav")
	resp := test.Code(t, tEcho, req, http.StatusInternalServerError)

	var res api.SubmitResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "provider down")
}

func Test_Status_Unknown(t *testing.T) {
	initTest(t)
	dbMock.On("LoadJob", mock.Anything, "10").Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.StatusResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Equal(t, status.Pending.String(), res.State)
	assert.Equal(t, "Task pending...", res.Status)
}

func Test_Status_Progress(t *testing.T) {
	initTest(t)
	dbMock.On("LoadJob", mock.Anything, "10").Return(&persistence.Job{ID: "10",
		State: status.Progress.String(), Progress: utils.ToSQLStr("Sending audio")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.StatusResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Equal(t, status.Progress.String(), res.State)
	assert.Equal(t, "Sending audio", res.Status)
	assert.Nil(t, res.Result)
}

func Test_Status_Success(t *testing.T) {
	initTest(t)
	dbMock.On("LoadJob", mock.Anything, "10").Return(&persistence.Job{ID: "10",
		State: status.Success.String(), ResultDocument: utils.ToSQLStr("transcricao_1.txt"),
		ResultMessage: utils.ToSQLStr("done")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.StatusResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Equal(t, status.Success.String(), res.State)
	require.NotNil(t, res.Result)
	assert.Equal(t, "transcricao_1.txt", res.Result.Document)
	assert.Nil(t, res.Result.SpeakerCount)
}

func Test_Status_Success_SpeakerCount(t *testing.T) {
	initTest(t)
	job := &persistence.Job{ID: "10", State: status.Success.String(),
		ResultDocument: utils.ToSQLStr("transcricao_1.txt")}
	job.SpeakerCount = utils.ToSQLInt32(0)
	dbMock.On("LoadJob", mock.Anything, "10").Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	// zero speakers is reported, not omitted
	assert.Contains(t, resp.Body.String(), `"speakers_identified":0`)
}

func Test_Status_Success_SpeakerDurations(t *testing.T) {
	initTest(t)
	job := &persistence.Job{ID: "10", State: status.Success.String(),
		ResultDocument: utils.ToSQLStr("transcricao_1.txt")}
	job.SpeakerCount = utils.ToSQLInt32(2)
	job.ResultDurations = utils.ToSQLStr(`{"A":2,"B":1.5}`)
	dbMock.On("LoadJob", mock.Anything, "10").Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.StatusResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	require.NotNil(t, res.Result)
	assert.Equal(t, map[string]float64{"A": 2, "B": 1.5}, res.Result.SpeakerDurations)
}

func Test_Status_Failure(t *testing.T) {
	initTest(t)
	dbMock.On("LoadJob", mock.Anything, "10").Return(&persistence.Job{ID: "10",
		State: status.Failure.String(), ErrorClass: utils.ToSQLStr(utils.ClassProvider),
		ErrorMessage: utils.ToSQLStr("provider down")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)

	var res api.StatusResponse
	require.Nil(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Equal(t, status.Failure.String(), res.State)
	assert.Equal(t, "provider down", res.Error)
	assert.Equal(t, utils.ClassProvider, res.ErrorClass)
}

func Test_Status_DBError(t *testing.T) {
	initTest(t)
	dbMock.On("LoadJob", mock.Anything, "10").Return(nil, fmt.Errorf("db down"))
	req := httptest.NewRequest(http.MethodGet, "/status/10", nil)
	test.Code(t, tEcho, req, http.StatusInternalServerError)
}

func Test_Download(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/download/transcricao_1.txt", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "doc content", test.RStr(t, resp.Body))
	assert.Equal(t, "attachment; filename=transcricao_1.txt", resp.Header().Get("Content-Disposition"))
}

func Test_Download_Traversal(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/download/..%2Fsecret.txt", nil)
	test.Code(t, tEcho, req, http.StatusBadRequest)
	filerMock.AssertNotCalled(t, "LoadFile", mock.Anything, mock.Anything)
}

func Test_Download_NotFound(t *testing.T) {
	initTest(t)
	filerMock.ExpectedCalls = nil
	filerMock.On("LoadFile", mock.Anything, mock.Anything).Return(nil, filestore.ErrNotFound)
	req := httptest.NewRequest(http.MethodGet, "/download/transcricao_none.txt", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func Test_Download_RejectsUploadedInput(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/download/5bb0a580_olia.wav", nil)
	test.Code(t, tEcho, req, http.StatusBadRequest)
	filerMock.AssertNotCalled(t, "LoadFile", mock.Anything, mock.Anything)
}

func Test_Healthcheck(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusOK)
}

func Test_Live_DBDown(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("Live", mock.Anything).Return(fmt.Errorf("db down"))
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusServiceUnavailable)
}

func Test_validate(t *testing.T) {
	initTest(t)
	tests := []struct {
		name    string
		data    *Data
		wantErr bool
	}{
		{name: "OK async", data: &Data{Filer: filerMock, DB: dbMock, MsgSender: senderMock,
			Runner: runnerMock, WSHandler: wsHandlerMock}, wantErr: false},
		{name: "OK inline", data: &Data{Filer: filerMock, Runner: runnerMock}, wantErr: false},
		{name: "No filer", data: &Data{Runner: runnerMock}, wantErr: true},
		{name: "No runner", data: &Data{Filer: filerMock}, wantErr: true},
		{name: "DB without sender", data: &Data{Filer: filerMock, Runner: runnerMock, DB: dbMock}, wantErr: true},
		{name: "No ws handler", data: &Data{Filer: filerMock, DB: dbMock, MsgSender: senderMock,
			Runner: runnerMock}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.data)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

// mockRunner is inline pipeline mock
type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, inp *worker.Input) (*worker.Result, error) {
	args := m.Called(ctx, inp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.Result), args.Error(1)
}

type mockWSConnHandler struct{ mock.Mock }

func (m *mockWSConnHandler) HandleConnection(wc WsConn) error {
	args := m.Called(wc)
	return args.Error(0)
}

func (m *mockWSConnHandler) GetConnections(id string) ([]WsConn, bool) {
	args := m.Called(id)
	return args.Get(0).([]WsConn), args.Bool(1)
}

type testFile struct {
	*strings.Reader
}

func newTestFile(s string) io.ReadSeekCloser {
	return testFile{Reader: strings.NewReader(s)}
}

func (testFile) Close() error { return nil }
