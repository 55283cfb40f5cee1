package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/hsa-app/internal/annotator"
	"github.com/JakeFAU/hsa-app/internal/metrics"
	"github.com/JakeFAU/hsa-app/internal/policy/ratelimit"
)

// getImage handles GET {prefix}/images/{name}. It returns 400 for names that
// are not a single path segment and 404 when the store has no such object.
func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := annotator.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rc, err := s.deps.Blobs.GetObject(r.Context(), name)
	if err != nil {
		if errors.Is(err, annotator.ErrNotFound) {
			metrics.ObserveImageRead("not_found")
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		metrics.ObserveImageRead("failed")
		s.logger.Error("image read failed", zap.String("image", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read image")
		return
	}
	defer rc.Close()

	metrics.ObserveImageRead("ok")
	w.Header().Set("Content-Type", contentTypeFor(name))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("image copy interrupted", zap.String("image", name), zap.Error(err))
	}
}

// putImage handles POST {prefix}/images/{name}: the body is stored verbatim,
// replacing any existing object of that name. Bodies above MaxUploadBytes get
// 413 and throttled clients get 429. Ledger and notification failures are
// logged but do not fail the write.
func (s *Server) putImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := annotator.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(ratelimit.ClientKey(r.RemoteAddr)) {
		metrics.ObserveUploadThrottled()
		writeError(w, http.StatusTooManyRequests, "upload rate exceeded")
		return
	}
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	contentType := r.Header.Get("Content-Type")
	s.logger.Info("attribute write received",
		zap.String("url", r.URL.String()),
		zap.String("content_type", contentType),
		zap.Int64("content_length", r.ContentLength),
	)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	digest, err := s.deps.Hasher.Hash(data)
	if err != nil {
		s.logger.Error("hash failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to hash body")
		return
	}
	id, err := s.deps.IDGen.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate id")
		return
	}
	uri, err := s.deps.Blobs.PutObject(r.Context(), name, contentType, bytes.NewReader(data))
	if err != nil {
		s.logger.Error("image write failed", zap.String("image", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to write image")
		return
	}
	metrics.ObserveImageWrite(int64(len(data)))

	write := annotator.AttributeWrite{
		ID:          id,
		Image:       name,
		Bytes:       int64(len(data)),
		SHA256:      digest,
		ContentType: contentType,
		BlobURI:     uri,
		WrittenAt:   s.deps.Clock.Now().UTC(),
	}
	s.record(r, write)
	writeJSON(w, http.StatusOK, write)
}

func (s *Server) record(r *http.Request, write annotator.AttributeWrite) {
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.RecordWrite(r.Context(), write); err != nil {
			s.logger.Warn("ledger insert failed", zap.String("id", write.ID), zap.Error(err))
		}
	}
	if s.deps.Publisher != nil && s.opts.Topic != "" {
		msgID, err := s.deps.Publisher.Publish(r.Context(), s.opts.Topic, write)
		if err != nil {
			s.logger.Warn("write notification failed", zap.String("id", write.ID), zap.Error(err))
			return
		}
		s.logger.Debug("write notification published", zap.String("id", write.ID), zap.String("message_id", msgID))
	}
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
