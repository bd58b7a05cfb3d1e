package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	eapi "github.com/zangari/transcrever/internal/pkg/engine/api"
	"github.com/zangari/transcrever/internal/pkg/utils"
)

const minKeyLen = 10

// Client communicates with the AssemblyAI API
type Client struct {
	httpclient   *http.Client
	url          string
	key          string
	timeout      time.Duration
	pollInterval time.Duration
	backoff      func() backoff.BackOff
}

// NewClient creates an AssemblyAI client
func NewClient(url, key string) (*Client, error) {
	res := Client{}
	if url == "" {
		return nil, fmt.Errorf("no provider URL")
	}
	res.url = strings.TrimSuffix(url, "/")
	res.key = key
	res.timeout = time.Second * 50
	res.pollInterval = time.Second * 3
	res.httpclient = providerHTTPClient()
	res.backoff = newSimpleBackoff
	return &res, nil
}

type transcriptRequest struct {
	AudioURL         string `json:"audio_url"`
	LanguageCode     string `json:"language_code,omitempty"`
	Punctuate        bool   `json:"punctuate"`
	FormatText       bool   `json:"format_text"`
	SpeakerLabels    bool   `json:"speaker_labels,omitempty"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
}

type utteranceResponse struct {
	Speaker string `json:"speaker"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Text    string `json:"text"`
}

type transcriptResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Text       string              `json:"text"`
	Error      string              `json:"error"`
	Utterances []utteranceResponse `json:"utterances"`
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

// Transcribe uploads the audio, creates a transcript and polls it to completion
func (sp *Client) Transcribe(ctx context.Context, audio io.Reader, opts eapi.Options) (*eapi.TranscriptResult, error) {
	if len(strings.TrimSpace(sp.key)) < minKeyLen {
		return nil, utils.NewProviderCredential("no valid provider API key configured")
	}
	audioURL, err := sp.upload(ctx, audio)
	if err != nil {
		return nil, asProviderErr("can't upload audio", err)
	}
	id, err := sp.createTranscript(ctx, audioURL, opts)
	if err != nil {
		return nil, asProviderErr("can't create transcript", err)
	}
	goapp.Log.Info().Str("transcript", id).Msg("polling provider")
	for {
		tr, err := sp.getTranscript(ctx, id)
		if err != nil {
			return nil, asProviderErr("can't get transcript", err)
		}
		switch tr.Status {
		case "completed":
			return mapResult(tr)
		case "error":
			return nil, utils.NewProvider(fmt.Sprintf("transcription failed: %s", tr.Error), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sp.pollInterval):
		}
	}
}

func asProviderErr(msg string, err error) error {
	var credErr *utils.ProviderCredentialError
	if errors.As(err, &credErr) {
		return err
	}
	return utils.NewProvider(msg, err)
}

func mapResult(tr *transcriptResponse) (*eapi.TranscriptResult, error) {
	if strings.TrimSpace(tr.Text) == "" {
		return nil, utils.NewProvider("provider returned an empty transcript", nil)
	}
	res := &eapi.TranscriptResult{Text: tr.Text}
	for _, u := range tr.Utterances {
		res.Utterances = append(res.Utterances, eapi.Utterance{Speaker: u.Speaker,
			StartMs: u.Start, EndMs: u.End, Text: u.Text})
	}
	return res, nil
}

func (sp *Client) upload(ctx context.Context, audio io.Reader) (string, error) {
	// provider upload takes raw bytes, read once so retries can resend
	b, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("can't read audio: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, time.Minute*10)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, sp.url+"/upload", bytes.NewReader(b))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Authorization", sp.key)
		req.Header.Set("Content-Type", "application/octet-stream")
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		var respData uploadResponse
		if retry, err := sp.invoke(req, &respData); err != nil {
			return "", retry, err
		}
		if respData.UploadURL == "" {
			return "", false, utils.NewProvider("no upload URL in provider response", nil)
		}
		return respData.UploadURL, false, nil
	}, sp.backoff())
}

func (sp *Client) createTranscript(ctx context.Context, audioURL string, opts eapi.Options) (string, error) {
	inp := transcriptRequest{AudioURL: audioURL, LanguageCode: opts.Language,
		Punctuate: true, FormatText: true, SpeakerLabels: opts.SpeakerLabels}
	if opts.SpeakerLabels {
		inp.SpeakersExpected = opts.SpeakersExpected
	}
	b, err := json.Marshal(inp)
	if err != nil {
		return "", fmt.Errorf("can't marshal request: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, sp.url+"/transcript", bytes.NewReader(b))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Authorization", sp.key)
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		var respData transcriptResponse
		if retry, err := sp.invoke(req, &respData); err != nil {
			return "", retry, err
		}
		if respData.ID == "" {
			return "", false, utils.NewProvider("no transcript ID in provider response", nil)
		}
		return respData.ID, false, nil
	}, sp.backoff())
}

func (sp *Client) getTranscript(ctx context.Context, id string) (*transcriptResponse, error) {
	return goapp.InvokeWithBackoff(ctx, func() (*transcriptResponse, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/transcript/%s", sp.url, id), nil)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Authorization", sp.key)
		req = req.WithContext(ctx)
		res := &transcriptResponse{}
		if retry, err := sp.invoke(req, res); err != nil {
			return nil, retry, err
		}
		return res, false, nil
	}, sp.backoff())
}

func (sp *Client) invoke(req *http.Request, out interface{}) (bool, error) {
	resp, err := sp.httpclient.Do(req)
	if err != nil {
		return goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, utils.NewProviderCredential("provider rejected the API key")
	}
	if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
		err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
		return goapp.IsRetryableCode(resp.StatusCode), err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
	}
	return false, nil
}

func providerHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
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
