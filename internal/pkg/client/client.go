package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	"github.com/zangari/transcrever/internal/pkg/api"
	"github.com/zangari/transcrever/internal/pkg/status"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

// TerminalJobView is the final outcome of one polling run.
// State may be a synthetic TIMEOUT when the wait cap was exceeded,
// the underlying job keeps running and may still finish later.
type TerminalJobView struct {
	State      string
	Elapsed    time.Duration
	Status     string
	Result     *api.JobResult
	Error      string
	ErrorClass string
}

// FileData keeps downloaded file
type FileData struct {
	Name    string
	Content []byte
}

// Client communicates with the transcription service
type Client struct {
	httpclient *http.Client
	url        string
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates a transcription service client
func NewClient(url string) (*Client, error) {
	res := Client{}
	if url == "" {
		return nil, fmt.Errorf("no url")
	}
	if !strings.HasPrefix(url, "http") {
		return nil, fmt.Errorf("no http in url")
	}
	res.url = strings.TrimSuffix(url, "/")
	res.timeout = time.Second * 50
	res.httpclient = &http.Client{Transport: newTransport()}
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Healthy checks if the service is up
func (sp *Client) Healthy(ctx context.Context) error {
	var res map[string]string
	return sp.invoke(ctx, http.MethodGet, sp.url+"/healthcheck", nil, "", &res)
}

// Submit uploads audio with params, returns the job ID
func (sp *Client) Submit(ctx context.Context, fileName string, audio io.Reader, params map[string]string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(api.PrmFile, fileName)
	if err != nil {
		return "", fmt.Errorf("can't add file to request: %w", err)
	}
	if _, err = io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("can't add file content to request: %w", err)
	}
	for v, k := range params {
		if err := writer.WriteField(v, k); err != nil {
			return "", fmt.Errorf("can't add param: %w", err)
		}
	}
	writer.Close()

	var respData api.SubmitResponse
	err = sp.invoke(ctx, http.MethodPost, sp.url+"/transcribe", bytes.NewReader(body.Bytes()), writer.FormDataContentType(), &respData)
	if err != nil {
		return "", err
	}
	if respData.TaskID == "" {
		return "", fmt.Errorf("can't get task ID from response")
	}
	return respData.TaskID, nil
}

// GetStatus return status by ID
func (sp *Client) GetStatus(ctx context.Context, ID string) (*api.StatusResponse, error) {
	res := &api.StatusResponse{}
	if err := sp.invoke(ctx, http.MethodGet, fmt.Sprintf("%s/status/%s", sp.url, ID), nil, "", res); err != nil {
		return nil, err
	}
	return res, nil
}

// PollUntilTerminal queries job state every interval until terminal.
// The total wait is capped by maxWait, on exceeding it a synthetic
// TIMEOUT view is returned carrying the elapsed time.
// A transient status query failure does not end the run.
func (sp *Client) PollUntilTerminal(ctx context.Context, ID string, maxWait, interval time.Duration) (*TerminalJobView, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("wrong interval %v", interval)
	}
	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		// a slow status query must not push the run past the wait cap
		qCtx, cancelF := context.WithDeadline(ctx, deadline)
		st, err := sp.GetStatus(qCtx, ID)
		cancelF()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			goapp.Log.Warn().Err(err).Str("ID", ID).Msg("status query failed, will retry")
		} else if status.From(st.State).Terminal() {
			return &TerminalJobView{State: st.State, Elapsed: time.Since(start), Status: st.Status,
				Result: st.Result, Error: st.Error, ErrorClass: st.ErrorClass}, nil
		}
		if !time.Now().Add(interval).Before(deadline) {
			wait := time.Until(deadline)
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
			return &TerminalJobView{State: status.Timeout.String(), Elapsed: time.Since(start)}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Download retrieves the named result document.
// Failures here happen after a job already reported success,
// so they surface with their own error class.
func (sp *Client) Download(ctx context.Context, name string) (*FileData, error) {
	urlStr := fmt.Sprintf("%s/download/%s", sp.url, name)
	goapp.Log.Info().Str("url", urlStr).Msg("get file")
	res, err := goapp.InvokeWithBackoff(ctx, func() (*FileData, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, false, err
		}
		req = req.WithContext(ctx)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		br, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't read body: %w", err)
		}
		res := &FileData{Content: br}
		res.Name = parseName(resp.Header.Get("content-disposition"))
		if res.Name == "" {
			res.Name = name
		}
		return res, false, nil
	}, sp.backoff())
	if err != nil {
		return nil, utils.NewArtifactRetrieval(name, err)
	}
	return res, nil
}

// DownloadTo saves the named result document to a local path
func (sp *Client) DownloadTo(ctx context.Context, name, path string) error {
	fd, err := sp.Download(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, fd.Content, 0644); err != nil {
		return utils.NewArtifactRetrieval(name, err)
	}
	return nil
}

func (sp *Client) invoke(ctx context.Context, method, urlStr string, body io.Reader, contentType string, out interface{}) error {
	var data []byte
	if body != nil {
		var err error
		data, err = io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("can't read body: %w", err)
		}
	}
	_, err := goapp.InvokeWithBackoff(ctx, func() (interface{}, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		var rd io.Reader
		if data != nil {
			rd = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, urlStr, rd)
		if err != nil {
			return nil, false, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req = req.WithContext(ctx)
		goapp.Log.Debug().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
			}
		}
		return nil, false, nil
	}, sp.backoff())
	return err
}

func parseName(s string) string {
	_, params, err := mime.ParseMediaType(s)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func newTransport() http.RoundTripper {
	// default roundripper is not well suited for our case
	// it has just 2 idle connections per host, so try to tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
