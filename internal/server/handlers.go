package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ad-agent-console/internal/types"
)

// handleUpload stores a dataset file and returns its server-side path
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "file is required: "+err.Error())
		return
	}
	defer func() { _ = file.Close() }()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		s.errorResponse(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path, err := filepath.Abs(filepath.Join(s.uploadDir, name))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	out, err := os.Create(path)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	n, err := io.Copy(out, file)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to store file: "+err.Error())
		return
	}

	s.log.Info("dataset uploaded", "path", path, "bytes", n)
	s.jsonResponse(w, http.StatusOK, types.UploadResponse{Path: path})
}

// handleRun starts replaying the transcript as a new job
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	j := newReplayJob(types.JobFromRequest(uuid.New().String(), req, time.Now()))
	s.jobs.add(j)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.replay(s.ctx, j, s.transcript)
	}()

	s.jsonResponse(w, http.StatusOK, types.RunResponse{JobID: j.job.ID})
}

// handleLogs streams the job's log buffer from the beginning, then new lines as they are
// produced, and returns after the final DONE line
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.get(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := sse.WriteComment("stream " + j.job.ID); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	sent := 0
	for {
		lines, finished, changed := j.since(sent)
		for _, line := range lines {
			if err := sse.WriteData(line); err != nil {
				s.log.Debug("log stream client gone", "job_id", j.job.ID, "error", err)
				return
			}
		}
		sent += len(lines)
		if finished {
			return
		}

		select {
		case <-changed:
		case <-keepAlive.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handleResults returns the artifact of a finished job
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := s.jobs.get(id)
	if err == nil {
		if result, finished := j.results(); finished {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result)
			return
		}
		err = &ErrResultsPending{JobID: id}
	}

	var pending *ErrResultsPending
	if errors.As(err, &pending) {
		s.errorResponse(w, HTTPStatus(err), "No results found")
		return
	}
	s.errorResponse(w, HTTPStatus(err), err.Error())
}
