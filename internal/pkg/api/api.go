package api

// form parameter names accepted by the submission endpoint
const (
	// PrmFile is the multipart file field
	PrmFile = "file"
	// PrmLanguage - language code, default "pt"
	PrmLanguage = "language"
	// PrmSpeakerLabels - "true"/"false", default "false"
	PrmSpeakerLabels = "speaker_labels"
	// PrmSpeakersExpected - expected speaker count hint
	PrmSpeakersExpected = "speakers_expected"
	// PrmEmail - optional notification address
	PrmEmail = "email"
)

// defaults applied when the form omits a parameter
const (
	// DefaultLanguage is used when no language is passed
	DefaultLanguage = "pt"
	// DefaultSpeakersExpected is the diarization hint when speaker
	// labels are requested without an explicit count
	DefaultSpeakersExpected = 5
)

// JobResult is the payload of a successfully completed job.
// SpeakerCount is nil when speaker labeling was not requested,
// 0 when it was requested but no speakers were found.
type JobResult struct {
	Document         string             `json:"docx"`
	Message          string             `json:"message"`
	SpeakerCount     *int               `json:"speakers_identified,omitempty"`
	SpeakerDurations map[string]float64 `json:"speaker_durations,omitempty"`
}

// JobError is the payload of a failed job
type JobError struct {
	Class   string `json:"error_class_name"`
	Message string `json:"message"`
}

// SubmitResponse is returned by the submission endpoint in async mode
// or on submission failure
type SubmitResponse struct {
	Success  bool   `json:"success"`
	TaskID   string `json:"task_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// StatusResponse is returned by GET /status/:id
type StatusResponse struct {
	State      string     `json:"state"`
	Status     string     `json:"status,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass string     `json:"error_class_name,omitempty"`
}
