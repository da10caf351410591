package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/lip2sync-api/internal/lipsync"
)

// Multipart parse limits.
const (
	// DefaultMaxUploadBytes caps the request body when no limit is configured.
	DefaultMaxUploadBytes int64 = 200 << 20
	// maxMemory is how much of a multipart body is kept in memory before spilling to disk.
	maxMemory int64 = 32 << 20
)

// Static errors for upload handling.
var (
	errUploadTooLarge   = errors.New("upload exceeds the size limit")
	errInvalidMultipart = errors.New("invalid multipart form")
	errUnsupportedMedia = errors.New("unsupported media type")
)

// uploadError is a client error detected while reading a request.
type uploadError struct {
	status int
	code   string
	err    error
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// upload is a validated uploaded file.
type upload struct {
	header *multipart.FileHeader
	class  lipsync.MediaClass
	ext    string
}

// open returns a reader over the uploaded bytes.
func (u *upload) open() (multipart.File, error) {
	return u.header.Open()
}

// parseUpload reads the multipart body and returns the face source stored
// under sourceField and the audio stored under "audio".
func (h *Handlers) parseUpload(w http.ResponseWriter, r *http.Request, sourceField string) (src, aud *upload, pushToS3 bool, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, false, &uploadError{
				status: http.StatusRequestEntityTooLarge,
				code:   "UPLOAD_TOO_LARGE",
				err:    fmt.Errorf("%w: %d bytes", errUploadTooLarge, tooLarge.Limit),
			}
		}
		return nil, nil, false, &uploadError{
			status: http.StatusBadRequest,
			code:   "INVALID_MULTIPART",
			err:    fmt.Errorf("%w: %w", errInvalidMultipart, err),
		}
	}

	form := uploadForm{
		Source: formFile(r, sourceField),
		Audio:  formFile(r, "audio"),
	}
	if v := r.FormValue("push_to_s3"); v != "" {
		form.PushToS3, _ = strconv.ParseBool(v)
	}

	if err := h.validator.Struct(form); err != nil {
		return nil, nil, false, &uploadError{
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
			err:    missingFields(err, sourceField),
		}
	}

	src, err = detect(form.Source, sourceField)
	if err != nil {
		return nil, nil, false, err
	}
	aud, err = detect(form.Audio, "audio")
	if err != nil {
		return nil, nil, false, err
	}
	if aud.class != lipsync.MediaAudio && aud.class != lipsync.MediaVideo {
		return nil, nil, false, &uploadError{
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_MEDIA",
			err:    fmt.Errorf("%w: audio must be an audio file, got %s", errUnsupportedMedia, aud.class),
		}
	}

	return src, aud, form.PushToS3, nil
}

// formFile returns the first file uploaded under field, or nil.
func formFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil
	}
	return files[0]
}

// missingFields turns validation errors into a message naming the form fields.
func missingFields(err error, sourceField string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.StructField() {
		case "Source":
			names = append(names, sourceField)
		case "Audio":
			names = append(names, "audio")
		default:
			names = append(names, fe.Field())
		}
	}
	return fmt.Errorf("missing required file field(s): %s", strings.Join(names, ", "))
}

// detect sniffs the media class of an upload from its content.
func detect(fh *multipart.FileHeader, field string) (*upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s upload: %w", field, err)
	}
	defer func() { _ = f.Close() }()

	mt, err := mimetype.DetectReader(io.LimitReader(f, 3072))
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}

	class, ok := mediaClass(mt)
	if !ok {
		return nil, &uploadError{
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_MEDIA",
			err:    fmt.Errorf("%w: %s is %s", errUnsupportedMedia, field, mt.String()),
		}
	}

	ext := mt.Extension()
	if ext == "" {
		ext = ".bin"
	}

	return &upload{header: fh, class: class, ext: ext}, nil
}

// mediaClass maps a detected MIME type, or one of its parents, to a media class.
func mediaClass(mt *mimetype.MIME) (lipsync.MediaClass, bool) {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return lipsync.MediaImage, true
		case strings.HasPrefix(m.String(), "video/"):
			return lipsync.MediaVideo, true
		case strings.HasPrefix(m.String(), "audio/"):
			return lipsync.MediaAudio, true
		}
	}
	return "", false
}
