package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/lip2sync-api/internal/audio"
	"github.com/maauso/lip2sync-api/internal/job"
	"github.com/maauso/lip2sync-api/internal/job/id"
	"github.com/maauso/lip2sync-api/internal/lipsync"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *lipsync.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
	writeTimeout   time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes limits the size of a lip-sync request body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithWriteTimeout gives a lip-sync response d to be written, counted from
// the moment its job gets a processing slot. Time spent queued does not eat
// into it. It should match the server's WriteTimeout.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.writeTimeout = d
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *lipsync.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Root handles GET / requests.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Service: ServiceName})
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Wav2Lip handles POST /api/wav2lip requests.
func (h *Handlers) Wav2Lip(w http.ResponseWriter, r *http.Request) {
	h.serveRun(w, r, job.EngineWav2Lip, "source")
}

// SadTalker handles POST /api/sadtalker requests.
func (h *Handlers) SadTalker(w http.ResponseWriter, r *http.Request) {
	h.serveRun(w, r, job.EngineSadTalker, "source")
}

// SingleImage handles POST /sync/single_image requests.
func (h *Handlers) SingleImage(w http.ResponseWriter, r *http.Request) {
	h.serveRun(w, r, job.EngineWav2LipSingleImage, "image")
}

// SadTalkerSingle handles POST /v1/sadtalker/single requests.
// Unlike the other endpoints it answers with JSON instead of the video.
func (h *Handlers) SadTalkerSingle(w http.ResponseWriter, r *http.Request) {
	res, ok := h.run(w, r, job.EngineSadTalker, "image")
	if !ok {
		return
	}
	resp := SadTalkerSingleResponse{
		OutputVideo: res.OutputPath,
		JobID:       res.JobID,
		VideoURL:    res.VideoURL,
	}
	if res.PublishedPath != res.OutputPath {
		resp.CanonicalVideo = res.PublishedPath
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /v1/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "", "JOB_FETCH_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJobVideo handles GET /v1/jobs/{id}/video requests.
// It serves the job's own output, never the shared canonical file.
func (h *Handlers) GetJobVideo(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	if found.Status != job.StatusCompleted || found.OutputPath == "" {
		writeError(w, http.StatusConflict, "job has no output video", string(found.Status), "VIDEO_NOT_READY")
		return
	}

	name := filepath.Base(found.OutputPath)
	if err := serveVideo(w, r, found.OutputPath, name); err != nil {
		h.logger.Warn("job output unavailable",
			slog.String("job_id", found.ID),
			slog.String("path", found.OutputPath),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "job output is no longer available", "", "VIDEO_GONE")
	}
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "", "MISSING_JOB_ID")
		return nil, false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job ID", "", "INVALID_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

// serveRun runs a pipeline and answers with the resulting video.
func (h *Handlers) serveRun(w http.ResponseWriter, r *http.Request, engine job.Engine, sourceField string) {
	res, ok := h.run(w, r, engine, sourceField)
	if !ok {
		return
	}

	e, _ := h.service.Engine(engine)
	w.Header().Set("X-Job-ID", res.JobID)
	if res.VideoURL != "" {
		w.Header().Set("X-Video-URL", res.VideoURL)
	}

	if err := serveVideo(w, r, res.OutputPath, e.CanonicalName()); err != nil {
		h.logger.Error("failed to serve output video",
			slog.String("job_id", res.JobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read output video", err.Error(), "OUTPUT_NOT_FOUND")
	}
}

// run parses the upload and executes the pipeline. On failure it writes the
// error response and returns false.
func (h *Handlers) run(w http.ResponseWriter, r *http.Request, engine job.Engine, sourceField string) (*lipsync.Result, bool) {
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	src, aud, pushToS3, err := h.parseUpload(w, r, sourceField)
	if err != nil {
		h.writeUploadError(w, err)
		return nil, false
	}

	srcFile, err := src.open()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload", err.Error(), "UPLOAD_READ_FAILED")
		return nil, false
	}
	defer func() { _ = srcFile.Close() }()

	audFile, err := aud.open()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload", err.Error(), "UPLOAD_READ_FAILED")
		return nil, false
	}
	defer func() { _ = audFile.Close() }()

	rc := http.NewResponseController(w)
	res, err := h.service.Run(r.Context(), lipsync.Request{
		Engine:      engine,
		Source:      srcFile,
		SourceExt:   src.ext,
		SourceClass: src.class,
		Audio:       audFile,
		AudioExt:    aud.ext,
		PushToS3:    pushToS3,
		OnStart:     func() { h.extendWriteDeadline(rc) },
	})
	if err != nil {
		h.writeRunError(w, engine, err)
		return nil, false
	}
	return res, true
}

// extendWriteDeadline restarts the write deadline once a queued job starts.
func (h *Handlers) extendWriteDeadline(rc *http.ResponseController) {
	if h.writeTimeout <= 0 {
		return
	}
	err := rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to extend write deadline", slog.String("error", err.Error()))
	}
}

func (h *Handlers) writeUploadError(w http.ResponseWriter, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		h.logger.Warn("rejected upload",
			slog.String("code", ue.code),
			slog.String("error", ue.Error()),
		)
		writeError(w, ue.status, ue.Error(), "", ue.code)
		return
	}
	h.logger.Error("failed to read upload", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to read upload", err.Error(), "UPLOAD_READ_FAILED")
}

// runErrors maps pipeline errors to responses, checked in order.
var runErrors = []struct {
	target  error
	status  int
	message string
	code    string
}{
	{lipsync.ErrUnsupportedSource, http.StatusBadRequest, "unsupported source media", "UNSUPPORTED_MEDIA"},
	{audio.ErrNoAudioStream, http.StatusBadRequest, "audio upload has no audio stream", "INVALID_AUDIO"},
	{lipsync.ErrBusy, http.StatusServiceUnavailable, "all processing slots are busy", "SERVICE_BUSY"},
	{context.DeadlineExceeded, http.StatusInternalServerError, "processing timed out", "PROCESS_TIMEOUT"},
	{context.Canceled, http.StatusServiceUnavailable, "request cancelled", "CANCELLED"},
	{lipsync.ErrModelNotFound, http.StatusInternalServerError, "model not found", "MODEL_NOT_FOUND"},
	{lipsync.ErrConversionFailed, http.StatusInternalServerError, "media conversion failed", "CONVERSION_FAILED"},
	{lipsync.ErrMergeFailed, http.StatusInternalServerError, "ffmpeg merge failed", "MERGE_FAILED"},
	{lipsync.ErrInferenceFailed, http.StatusInternalServerError, "inference failed", "INFERENCE_FAILED"},
	{lipsync.ErrOutputNotFound, http.StatusInternalServerError, "inference output not found", "OUTPUT_NOT_FOUND"},
	{lipsync.ErrPublishFailed, http.StatusInternalServerError, "failed to upload video", "UPLOAD_FAILED"},
}

func (h *Handlers) writeRunError(w http.ResponseWriter, engine job.Engine, err error) {
	status, message, code := http.StatusInternalServerError, "processing failed", "INTERNAL_ERROR"
	for _, m := range runErrors {
		if errors.Is(err, m.target) {
			status, message, code = m.status, m.message, m.code
			break
		}
	}

	h.logger.Error("lip-sync run failed",
		slog.String("engine", string(engine)),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	writeError(w, status, message, err.Error(), code)
}

// serveVideo writes the mp4 at path as an attachment called filename.
func serveVideo(w http.ResponseWriter, r *http.Request, path, filename string) error {
	f, err := os.Open(path) // #nosec G304 - path comes from the job record, not the request
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
	return nil
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Engine:        string(j.Engine),
		Status:        string(j.Status),
		Error:         j.Error,
		Steps:         make([]StepResponse, 0, len(j.Steps)),
		OutputPath:    j.OutputPath,
		CanonicalPath: j.CanonicalPath,
		VideoURL:      j.VideoURL,
		CreatedAt:     j.CreatedAt,
		StartedAt:     optionalTime(j.StartedAt),
		CompletedAt:   optionalTime(j.CompletedAt),
	}
	for _, s := range j.Steps {
		resp.Steps = append(resp.Steps, StepResponse{
			Name:        s.Name,
			Status:      string(s.Status),
			Error:       s.Error,
			StartedAt:   s.StartedAt,
			CompletedAt: optionalTime(s.CompletedAt),
		})
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, details, code string) {
	writeJSON(w, status, ErrorResponse{
		Status:  "error",
		Error:   message,
		Details: details,
		Code:    code,
	})
}
