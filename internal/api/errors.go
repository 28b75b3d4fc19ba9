package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/dgrissen2/plannotator-ext/internal/resolve"
	"github.com/dgrissen2/plannotator-ext/internal/security"
)

var (
	ErrFileTooLarge  = errors.New("file too large")
	ErrUploadFailure = errors.New("upload failed")
)

// statusFor maps an error from the resolver, the security checks or the
// upload path onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, resolve.ErrAmbiguousFilename):
		return http.StatusBadRequest
	case errors.Is(err, security.ErrPathTraversal):
		return http.StatusForbidden
	case errors.Is(err, resolve.ErrFileNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, security.ErrExtensionNotAllowed):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}
