package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vgarvardt/gue/v5"
	"github.com/zangari/transcrever/internal/pkg/api"
	"github.com/zangari/transcrever/internal/pkg/messages"
	"github.com/zangari/transcrever/internal/pkg/persistence"
	"github.com/zangari/transcrever/internal/pkg/status"
	"github.com/zangari/transcrever/internal/pkg/test"
	"github.com/zangari/transcrever/internal/pkg/test/mocks"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

var (
	dbEHMock       *mocks.DB
	handlerEHMMock *mockWSConnHandler
	hndData        *HandlerData
	connMock       *mockWSConn
)

func initHandlerTest(t *testing.T) {
	dbEHMock = &mocks.DB{}
	handlerEHMMock = &mockWSConnHandler{}
	connMock = &mockWSConn{}
	hndData = &HandlerData{DB: dbEHMock, GueClient: &gue.Client{}, WorkerCount: 10, WSHandler: handlerEHMMock}
	handlerEHMMock.On("GetConnections", mock.Anything).Return([]WsConn{connMock}, true)
	dbEHMock.On("LoadJob", mock.Anything, mock.Anything).Return(&persistence.Job{ID: "1",
		State: status.Progress.String(), Progress: utils.ToSQLStr("Sending audio")}, nil)
	connMock.On("WriteJSON", mock.Anything).Return(nil)
}

func Test_handleStatusEvent(t *testing.T) {
	initHandlerTest(t)
	err := handleStatus(test.Ctx(t), messages.NewProcessMessage("1"), hndData)
	assert.Nil(t, err)
	require.Equal(t, 1, len(connMock.Calls))
	res := connMock.Calls[0].Arguments[0].(*api.StatusResponse)
	assert.Equal(t, status.Progress.String(), res.State)
	assert.Equal(t, "Sending audio", res.Status)
}

func Test_handleStatusEvent_NoConn(t *testing.T) {
	initHandlerTest(t)
	handlerEHMMock.ExpectedCalls = nil
	handlerEHMMock.On("GetConnections", mock.Anything).Return([]WsConn{}, false)
	err := handleStatus(test.Ctx(t), messages.NewProcessMessage("1"), hndData)
	assert.Nil(t, err)
	require.Equal(t, 0, len(connMock.Calls))
}

func Test_handleStatusEvent_UnknownJob(t *testing.T) {
	initHandlerTest(t)
	dbEHMock.ExpectedCalls = nil
	dbEHMock.On("LoadJob", mock.Anything, mock.Anything).Return(nil, nil)
	err := handleStatus(test.Ctx(t), messages.NewProcessMessage("1"), hndData)
	assert.Nil(t, err)
	// an unknown job still reads as pending for subscribers
	require.Equal(t, 1, len(connMock.Calls))
	res := connMock.Calls[0].Arguments[0].(*api.StatusResponse)
	assert.Equal(t, status.Pending.String(), res.State)
}

func Test_handleStatusEvent_Error(t *testing.T) {
	initHandlerTest(t)
	dbEHMock.ExpectedCalls = nil
	dbEHMock.On("LoadJob", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("olia"))
	err := handleStatus(test.Ctx(t), messages.NewProcessMessage("1"), hndData)
	assert.NotNil(t, err)
}

func Test_validateHandler(t *testing.T) {
	initHandlerTest(t)
	tests := []struct {
		name    string
		data    *HandlerData
		wantErr bool
	}{
		{name: "OK", data: &HandlerData{DB: dbEHMock, GueClient: &gue.Client{}, WorkerCount: 10, WSHandler: handlerEHMMock}, wantErr: false},
		{name: "Fail no data", data: &HandlerData{GueClient: &gue.Client{}, WorkerCount: 10, WSHandler: handlerEHMMock}, wantErr: true},
		{name: "Fail no data", data: &HandlerData{DB: dbEHMock, WorkerCount: 10, WSHandler: handlerEHMMock}, wantErr: true},
		{name: "Fail no data", data: &HandlerData{DB: dbEHMock, GueClient: &gue.Client{}, WSHandler: handlerEHMMock}, wantErr: true},
		{name: "Fail no data", data: &HandlerData{DB: dbEHMock, GueClient: &gue.Client{}, WorkerCount: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateHandler(tt.data); (err != nil) != tt.wantErr {
				t.Errorf("validateHandler() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type mockWSConn struct{ mock.Mock }

func (m *mockWSConn) ReadMessage() (messageType int, p []byte, err error) {
	args := m.Called()
	return args.Int(0), args.Get(1).([]byte), args.Error(2)
}

func (m *mockWSConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockWSConn) WriteJSON(v interface{}) error {
	args := m.Called(v)
	return args.Error(0)
}
