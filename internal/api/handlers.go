package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dgrissen2/plannotator-ext/internal/fsutil"
	"github.com/dgrissen2/plannotator-ext/internal/model"
	"github.com/dgrissen2/plannotator-ext/internal/resolve"
	"github.com/dgrissen2/plannotator-ext/internal/security"
)

// MaxUploadSize is the largest image the UI may attach.
const MaxUploadSize = 10 << 20

// Multipart framing allowance on top of MaxUploadSize.
const uploadOverhead = 1 << 20

type docResponse struct {
	Markdown       string          `json:"markdown"`
	Filepath       string          `json:"filepath"`
	Origin         string          `json:"origin,omitempty"`
	IsMain         bool            `json:"isMain"`
	ReadOnly       bool            `json:"readOnly"`
	SharingEnabled bool            `json:"sharingEnabled"`
	RepoInfo       *model.RepoInfo `json:"repoInfo"`
	Mode           model.Mode      `json:"mode"`
}

type approveRequest struct {
	AgentSwitch string `json:"agentSwitch"`
}

type feedbackRequest struct {
	Feedback    string            `json:"feedback"`
	Annotations []json.RawMessage `json:"annotations"`
	AgentSwitch string            `json:"agentSwitch"`
	LinkedDocs  model.LinkedDocs  `json:"linkedDocs"`
}

type saveRequest struct {
	Annotations string `json:"annotations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	resp := docResponse{
		Origin:         s.session.Origin,
		SharingEnabled: s.opts.SharingEnabled,
		RepoInfo:       s.session.RepoInfo,
		Mode:           s.session.Mode,
	}

	requested := r.URL.Query().Get("path")
	if requested == "" {
		resp.Markdown = s.session.Markdown
		resp.Filepath = s.session.Filepath
		resp.IsMain = true
		resp.ReadOnly = r.URL.Query().Get("readonly") == "true"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	doc, err := s.resolver.Read(r.Context(), requested)
	if err != nil {
		s.writeResolveError(w, requested, err)
		return
	}

	resp.Markdown = doc.Content
	resp.Filepath = doc.Path
	resp.ReadOnly = doc.ReadOnly
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeResolveError(w http.ResponseWriter, requested string, err error) {
	status := statusFor(err)
	var ambiguous *resolve.AmbiguousError
	if errors.As(err, &ambiguous) {
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"matches": ambiguous.Matches,
		})
		return
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", requested).Msg("linked document")
	} else {
		s.log.Debug().Err(err).Str("path", requested).Msg("linked document")
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Query().Get("path")
	if requested == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.session.BaseDir, target)
	}

	resolved, err := security.ValidateImagePath(target, s.imageBases())
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, security.ErrExtensionNotAllowed) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusNotFound, "not a file")
		return
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	if ctype := mime.TypeByExtension(ext); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	if ext == ".svg" {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) imageBases() []string {
	return []string{s.opts.UploadDir, s.opts.HomeDir, s.session.BaseDir}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxUploadSize+uploadOverhead {
		writeError(w, http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+uploadOverhead)

	path, err := s.saveUpload(r)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, http.ErrMissingFile) {
			status = http.StatusBadRequest
		}
		if status == http.StatusInternalServerError {
			s.log.Error().Err(err).Msg("upload")
		}
		writeError(w, status, err.Error())
		return
	}

	s.log.Info().Str("path", path).Msg("image uploaded")
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) saveUpload(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", ErrFileTooLarge
		}
		return "", fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		return "", ErrFileTooLarge
	}

	ext := strings.ToLower(security.SanitizeFilename(strings.TrimPrefix(filepath.Ext(header.Filename), ".")))
	if !security.IsAllowedImageExtension("x." + ext) {
		return "", fmt.Errorf("%w: %q", security.ErrExtensionNotAllowed, filepath.Ext(header.Filename))
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}
	if len(data) > MaxUploadSize {
		return "", ErrFileTooLarge
	}

	if err := fsutil.EnsureDir(s.opts.UploadDir, s.uploads.DirPerm); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}
	dest := filepath.Join(s.opts.UploadDir, uuid.NewString()+"."+ext)
	path, err := s.uploads.Write(dest, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}
	return path, nil
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if !s.session.Decision.Approve(req.AgentSwitch) {
		s.log.Warn().Msg("approve ignored, decision already recorded")
	} else {
		s.log.Info().Msg("plan approved")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if !s.session.Decision.Feedback(req.Feedback, req.Annotations, req.AgentSwitch, req.LinkedDocs) {
		s.log.Warn().Msg("feedback ignored, decision already recorded")
	} else {
		s.log.Info().Int("annotations", len(req.Annotations)).Msg("changes requested")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.opts.Archive == nil {
		writeError(w, http.StatusNotFound, "archiving is disabled")
		return
	}

	var req saveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	path, err := s.opts.Archive.SaveAnnotations(req.Annotations)
	if err != nil {
		s.log.Error().Err(err).Msg("save annotations")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.shell)
}
