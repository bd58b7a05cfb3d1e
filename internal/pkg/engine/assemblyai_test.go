package engine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/test"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	body string
	URL  string
}

func newTestR(code int, resp string) testResp {
	return testResp{code: code, resp: resp}
}

func newTestReq(req *http.Request) testReq {
	b, _ := io.ReadAll(req.Body)
	return testReq{URL: req.URL.String(), body: string(b)}
}

func initTestServer(t *testing.T, rData map[string]testResp) (*Client, *[]testReq) {
	t.Helper()
	resRequest := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		resRequest = append(resRequest, newTestReq(req))
		resp, f := rData[req.URL.String()]
		if f {
			rw.WriteHeader(resp.code)
			_, _ = rw.Write([]byte(resp.resp))
		} else {
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	// Use Client & URL from our local test server
	cl := Client{}
	cl.httpclient = server.Client()
	cl.url = server.URL
	cl.key = "test-key-0123456789"
	cl.timeout = time.Second
	cl.pollInterval = time.Millisecond
	cl.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	t.Cleanup(func() { server.Close() })
	return &cl, &resRequest
}

func testCalled(t *testing.T, URL string, tReq []testReq) {
	t.Helper()
	assert.GreaterOrEqual(t, len(tReq), 1)
	str := ""
	for _, r := range tReq {
		str = r.URL
		if str == URL {
			return
		}
	}
	assert.Equal(t, URL, str)
}

func TestTranscribe(t *testing.T) {
	client, tReq := initTestServer(t, map[string]testResp{
		"/upload":         newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript":     newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"completed","text":"olia text"}`),
	})

	r, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.Nil(t, err)
	assert.Equal(t, "olia text", r.Text)
	assert.Empty(t, r.Utterances)
	testCalled(t, "/upload", *tReq)
	testCalled(t, "/transcript", *tReq)
	testCalled(t, "/transcript/tr1", *tReq)
}

func TestTranscribe_Utterances(t *testing.T) {
	client, _ := initTestServer(t, map[string]testResp{
		"/upload":     newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript": newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"completed","text":"a b",`+
			`"utterances":[{"speaker":"A","start":0,"end":1500,"text":"a"},{"speaker":"B","start":1500,"end":3000,"text":"b"}]}`),
	})

	r, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"),
		eapi.Options{SpeakerLabels: true, SpeakersExpected: 2})

	require.Nil(t, err)
	require.Equal(t, 2, len(r.Utterances))
	assert.Equal(t, "A", r.Utterances[0].Speaker)
	assert.Equal(t, 1500, r.Utterances[0].EndMs)
	assert.Equal(t, "b", r.Utterances[1].Text)
}

func TestTranscribe_PassesOptions(t *testing.T) {
	client, tReq := initTestServer(t, map[string]testResp{
		"/upload":         newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript":     newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"completed","text":"olia"}`),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"),
		eapi.Options{Language: "pt", SpeakerLabels: true, SpeakersExpected: 3})

	require.Nil(t, err)
	var trBody string
	for _, r := range *tReq {
		if r.URL == "/transcript" {
			trBody = r.body
		}
	}
	assert.Contains(t, trBody, `"language_code":"pt"`)
	assert.Contains(t, trBody, `"speaker_labels":true`)
	assert.Contains(t, trBody, `"speakers_expected":3`)
	assert.Contains(t, trBody, `"punctuate":true`)
	assert.Contains(t, trBody, `"format_text":true`)
}

func TestTranscribe_AlwaysRequestsFormatting(t *testing.T) {
	client, tReq := initTestServer(t, map[string]testResp{
		"/upload":         newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript":     newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"completed","text":"olia"}`),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.Nil(t, err)
	var trBody string
	for _, r := range *tReq {
		if r.URL == "/transcript" {
			trBody = r.body
		}
	}
	assert.Contains(t, trBody, `"punctuate":true`)
	assert.Contains(t, trBody, `"format_text":true`)
}

func TestTranscribe_NoKey(t *testing.T) {
	client, tReq := initTestServer(t, map[string]testResp{})
	client.key = "short"

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.NotNil(t, err)
	assert.Equal(t, utils.ClassProviderCredential, utils.ErrorClass(err))
	// no network call before the credential check
	assert.Equal(t, 0, len(*tReq))
}

func TestTranscribe_KeyRejected(t *testing.T) {
	client, _ := initTestServer(t, map[string]testResp{
		"/upload": newTestR(http.StatusUnauthorized, `{"error":"bad key"}`),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.NotNil(t, err)
	assert.Equal(t, utils.ClassProviderCredential, utils.ErrorClass(err))
}

func TestTranscribe_ProviderError(t *testing.T) {
	client, _ := initTestServer(t, map[string]testResp{
		"/upload":         newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript":     newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"error","error":"bad audio"}`),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.NotNil(t, err)
	assert.Equal(t, utils.ClassProvider, utils.ErrorClass(err))
	assert.Contains(t, err.Error(), "bad audio")
}

func TestTranscribe_EmptyText(t *testing.T) {
	client, _ := initTestServer(t, map[string]testResp{
		"/upload":         newTestR(200, `{"upload_url":"http://olia/f1"}`),
		"/transcript":     newTestR(200, `{"id":"tr1","status":"queued"}`),
		"/transcript/tr1": newTestR(200, `{"id":"tr1","status":"completed","text":" "}`),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.NotNil(t, err)
	assert.Equal(t, utils.ClassProvider, utils.ErrorClass(err))
}

func TestTranscribe_UploadFails(t *testing.T) {
	client, _ := initTestServer(t, map[string]testResp{
		"/upload": newTestR(http.StatusInternalServerError, ""),
	})

	_, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.NotNil(t, err)
	assert.Equal(t, utils.ClassProvider, utils.ErrorClass(err))
}

func TestTranscribe_PollsUntilDone(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/upload":
			_, _ = rw.Write([]byte(`{"upload_url":"http://olia/f1"}`))
		case "/transcript":
			_, _ = rw.Write([]byte(`{"id":"tr1","status":"queued"}`))
		case "/transcript/tr1":
			mu.Lock()
			calls++
			done := calls > 2
			mu.Unlock()
			if done {
				_, _ = rw.Write([]byte(`{"id":"tr1","status":"completed","text":"olia"}`))
			} else {
				_, _ = rw.Write([]byte(`{"id":"tr1","status":"processing"}`))
			}
		}
	}))
	defer server.Close()
	client := Client{httpclient: server.Client(), url: server.URL, key: "test-key-0123456789",
		timeout: time.Second, pollInterval: time.Millisecond,
		backoff: func() backoff.BackOff { return &backoff.StopBackOff{} }}

	r, err := client.Transcribe(test.Ctx(t), strings.NewReader("audio"), eapi.Options{})

	require.Nil(t, err)
	assert.Equal(t, "olia", r.Text)
	assert.Equal(t, 3, calls)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "OK", url: "http://olia/v2", wantErr: false},
		{name: "No URL", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewClient(tt.url, "key-0123456789")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == nil {
				t.Errorf("NewClient() = nil, want object")
			}
		})
	}
}
