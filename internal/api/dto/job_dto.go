package dto

// SubmitRequest carries the non-file submission parameters. It binds
// from JSON bodies and from multipart/urlencoded form fields.
type SubmitRequest struct {
	FileURL  string `json:"file_url" form:"file_url"`
	Model    string `json:"model" form:"model"`
	Language string `json:"language" form:"language"`
}

// SubmitResponse is returned on accepted async submissions
type SubmitResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	Message   string `json:"message"`
	PollURL   string `json:"poll_url"`
	ResultURL string `json:"result_url"`
}

// JobStatusResponse is the unified job status merged from the task
// queue's native state and the metadata record
type JobStatusResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Message     string `json:"message"`
	NativeState string `json:"native_state"`
	SubmittedAt string `json:"submitted_at"`
	Model       string `json:"model"`
	Language    string `json:"language"`
	ResultURL   string `json:"result_url,omitempty"`
}

// JobSummary is one entry in a job listing
type JobSummary struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	NativeState string `json:"native_state"`
	SubmittedAt string `json:"submitted_at"`
	Model       string `json:"model"`
	Filename    string `json:"filename"`
}

// ListJobsResponse wraps a bounded job listing
type ListJobsResponse struct {
	Status string       `json:"status"`
	Jobs   []JobSummary `json:"jobs"`
	Count  int          `json:"count"`
}

// ErrorResponse is the stable error envelope for all failure responses
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
