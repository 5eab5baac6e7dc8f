package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

// multipartOverhead allows for form fields and boundaries around the file.
const multipartOverhead = 1 << 20

// importResponse is the JSON view of an import record.
type importResponse struct {
	*catalog.ImportRecord
	Progress  *core.ImportProgress `json:"progress,omitempty"`
	ReportURL string               `json:"reportUrl,omitempty"`
	ErrorCode string               `json:"errorCode,omitempty"`
	Message   string               `json:"message,omitempty"`
}

func newImportResponse(rec *catalog.ImportRecord, progress *core.ImportProgress) importResponse {
	resp := importResponse{ImportRecord: rec, Progress: progress}
	if rec.HasReport() {
		resp.ReportURL = "/api/imports/" + rec.ID + "/report"
	}
	if rec.Error != "" {
		msg := core.MapError(errors.New(rec.Error))
		resp.ErrorCode = msg.Code
		resp.Message = core.FormatUserError(errors.New(rec.Error))
	}
	return resp
}

// handleCreateImport stores an uploaded catalog and starts importing it.
//
// Form fields: file (required), user_id (or the X-User-ID header),
// mode=variants for variant-only files, encoding.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	userID := r.FormValue("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}

	ctx := core.ContextWithUserID(WithRequestMetadata(r.Context(), r), userID)
	rec, err := s.service.StartImport(ctx, core.ImportRequest{
		UserID:       userID,
		FileName:     header.Filename,
		Data:         file,
		Size:         header.Size,
		Encoding:     r.FormValue("encoding"),
		VariantsOnly: r.FormValue("mode") == "variants",
	})
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	logging.WithFields(r.Context(), "import_id", rec.ID, "user_id", userID).
		Info("catalog upload accepted", "file", header.Filename, "bytes", header.Size)

	w.Header().Set("Location", "/api/imports/"+rec.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"import_id": rec.ID,
		"status":    string(rec.Status),
	})
}

// handleGetImport returns the state of an import, with live progress while
// it runs.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")
	rec, err := s.service.GetImport(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	var progress *core.ImportProgress
	if rec.Status == catalog.ImportRunning {
		if p, err := s.service.GetProgress(r.Context(), id); err == nil {
			progress = &p
		}
	}
	writeJSON(w, http.StatusOK, newImportResponse(rec, progress))
}

// handleImportProgress streams progress via Server-Sent Events. The event
// ID is the block number, so a reconnecting client passing Last-Event-ID
// (or lastEventId) skips blocks it already saw.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	progressCh, err := s.service.SubscribeProgress(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			if !progress.Done() && progress.Block <= lastEventID {
				continue
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Block, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleImportReport downloads the failure report of an import.
func (s *Server) handleImportReport(w http.ResponseWriter, r *http.Request) {
	report, rec, err := s.service.OpenReport(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer report.Close()

	w.Header().Set("Content-Type", "text/csv; charset="+core.ReportEncoding(rec))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", core.ReportName(rec)))
	if _, err := io.Copy(w, report); err != nil {
		logging.FromContext(r.Context()).Error("write report", "import_id", rec.ID, "error", err)
	}
}

// handleExportProducts downloads the whole catalog in the import format.
func (s *Server) handleExportProducts(w http.ResponseWriter, r *http.Request) {
	enc := r.URL.Query().Get("encoding")
	if enc == "" {
		enc = s.cfg.Import.Encoding
	}
	if _, err := importer.LookupEncoding(enc); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	filename := fmt.Sprintf("products_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	n, err := s.service.Export(r.Context(), w, enc)
	logger := logging.FromContext(r.Context())
	if err != nil {
		// headers are already sent
		logger.Error("export products", "error", err, "products", n)
		return
	}
	logger.Info("products exported", "products", n, "encoding", enc)
}

// handleHealth reports database reachability and the import slot state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"imports": s.service.Limiter().Status(),
	}
	status := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.FromContext(r.Context()).Error("health check failed", "error", err)
			resp["status"] = "unavailable"
			resp["error"] = core.MapError(err).Code
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
