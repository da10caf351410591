// Package server provides the HTTP server for the Lip2Sync API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"mime/multipart"
	"time"
)

// ServiceName is reported by the status endpoint.
const ServiceName = "Lip2Sync-Server"

// uploadForm holds the two files of a lip-sync request.
type uploadForm struct {
	// Source is the face image or video.
	Source *multipart.FileHeader `validate:"required"`
	// Audio is the driving audio.
	Audio *multipart.FileHeader `validate:"required"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool
}

// StatusResponse is the HTTP response for the root endpoint.
type StatusResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Service is the service name.
	Service string `json:"service"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Status is always "error".
	Status string `json:"status"`
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Details carries the underlying cause, such as the tail of a failed command's output.
	Details string `json:"details,omitempty"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// SadTalkerSingleResponse is the HTTP response of the single-image SadTalker endpoint.
type SadTalkerSingleResponse struct {
	// OutputVideo is the job-specific video. Later runs never overwrite it.
	OutputVideo string `json:"output_video"`
	// CanonicalVideo is the shared sadtalker_output.mp4 the run published to.
	// It may already hold a later run's video.
	CanonicalVideo string `json:"canonical_video,omitempty"`
	// JobID is the unique identifier of the run.
	JobID string `json:"job_id"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true).
	VideoURL string `json:"video_url,omitempty"`
}

// StepResponse describes one stage of a job.
type StepResponse struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Engine is the pipeline the job ran through.
	Engine string `json:"engine"`
	// Status is the current job status.
	Status string `json:"status"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// Steps lists the stages the job went through.
	Steps []StepResponse `json:"steps"`
	// OutputPath is the job-specific output video.
	OutputPath string `json:"output_path,omitempty"`
	// CanonicalPath is the shared output the job published to.
	CanonicalPath string `json:"canonical_path,omitempty"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when processing started.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when processing finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}
