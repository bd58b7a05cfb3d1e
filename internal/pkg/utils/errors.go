package utils

import (
	"errors"
	"fmt"
)

// error class names recorded into a job's error payload
const (
	ClassInputNotFound      = "InputNotFoundError"
	ClassProviderCredential = "ProviderCredentialError"
	ClassProvider           = "ProviderError"
	ClassDocumentWrite      = "DocumentWriteError"
	ClassArtifactRetrieval  = "ArtifactRetrievalError"
	ClassInternal           = "InternalError"
)

// InputNotFoundError indicates the job's audio file is gone before processing started
type InputNotFoundError struct {
	Path string
}

func (e *InputNotFoundError) Error() string {
	return "input file not found: " + e.Path
}

// NewInputNotFound creates the error for a path
func NewInputNotFound(path string) error {
	return &InputNotFoundError{Path: path}
}

// ProviderCredentialError indicates missing/invalid transcription provider credentials
type ProviderCredentialError struct {
	Msg string
}

func (e *ProviderCredentialError) Error() string {
	return e.Msg
}

// NewProviderCredential creates the error
func NewProviderCredential(msg string) error {
	return &ProviderCredentialError{Msg: msg}
}

// ProviderError indicates the transcription provider call failed or returned incomplete data
type ProviderError struct {
	Msg string
	err error
}

func (e *ProviderError) Error() string {
	if e.err != nil {
		return e.Msg + ": " + e.err.Error()
	}
	return e.Msg
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// NewProvider wraps err with provider detail
func NewProvider(msg string, err error) error {
	return &ProviderError{Msg: msg, err: err}
}

// DocumentWriteError indicates the assembler could not persist the output file
type DocumentWriteError struct {
	err error
}

func (e *DocumentWriteError) Error() string {
	return "can't write document: " + e.err.Error()
}

func (e *DocumentWriteError) Unwrap() error {
	return e.err
}

// NewDocumentWrite creates the error
func NewDocumentWrite(err error) error {
	return &DocumentWriteError{err: err}
}

// ArtifactRetrievalError indicates a SUCCESS job whose artifact can't be fetched.
// It never changes the job's recorded state.
type ArtifactRetrievalError struct {
	Name string
	err  error
}

func (e *ArtifactRetrievalError) Error() string {
	return fmt.Sprintf("can't retrieve artifact '%s': %v", e.Name, e.err)
}

func (e *ArtifactRetrievalError) Unwrap() error {
	return e.err
}

// NewArtifactRetrieval creates the error
func NewArtifactRetrieval(name string, err error) error {
	return &ArtifactRetrievalError{Name: name, err: err}
}

// ErrorClass maps an error to its stable class name for the job error payload
func ErrorClass(err error) string {
	var inf *InputNotFoundError
	if errors.As(err, &inf) {
		return ClassInputNotFound
	}
	var cred *ProviderCredentialError
	if errors.As(err, &cred) {
		return ClassProviderCredential
	}
	var prov *ProviderError
	if errors.As(err, &prov) {
		return ClassProvider
	}
	var dw *DocumentWriteError
	if errors.As(err, &dw) {
		return ClassDocumentWrite
	}
	var ar *ArtifactRetrievalError
	if errors.As(err, &ar) {
		return ClassArtifactRetrieval
	}
	return ClassInternal
}
