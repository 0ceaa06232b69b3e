package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/trunov/pdfpress/internal/config"
	"github.com/trunov/pdfpress/internal/converter"
	"github.com/trunov/pdfpress/internal/dispatch"
)

type Dispatcher interface {
	SubmitJob(ctx context.Context, filename string, file io.Reader, options string) (dispatch.SubmitResult, error)
	ConvertSync(ctx context.Context, filename string, file io.Reader, options string) ([]byte, converter.Result, error)
	ConvertStaged(ctx context.Context, filename, options string, deleteOriginal bool) (string, converter.Result, error)
	Fetch(filename string) (*os.File, error)
	ScheduleDelete(filename string)
	DeleteFile(ctx context.Context, filename string)
}

type QueueStats interface {
	Len(ctx context.Context) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	dispatcher Dispatcher
	stats      QueueStats
	pinger     Pinger
	cfg        *config.Config
	validator  *validator.Validate
}

func New(dispatcher Dispatcher, stats QueueStats, pinger Pinger, cfg *config.Config) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		stats:      stats,
		pinger:     pinger,
		cfg:        cfg,
		validator:  validator.New(),
	}
}

// QueueJob accepts an upload and publishes a conversion job. When the queue
// cannot take the message the job converts inline instead and the response
// is exactly what the synchronous endpoint would have produced.
func (h *Handler) QueueJob(w http.ResponseWriter, r *http.Request) {
	filename, file, options, ok := h.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	res, err := h.dispatcher.SubmitJob(r.Context(), filename, file, options)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res.Queued {
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "file": res.File})
		return
	}
	h.writeSyncResult(w, res.File, res.PDF, res.Res, nil)
}

// ConvertSync converts an upload inline and streams back the PDF. The
// staging directory holds nothing from this request once the response is
// written, whatever the outcome.
func (h *Handler) ConvertSync(w http.ResponseWriter, r *http.Request) {
	filename, file, options, ok := h.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	pdf, res, err := h.dispatcher.ConvertSync(r.Context(), filename, file, options)
	h.writeSyncResult(w, filename, pdf, res, err)
}

func (h *Handler) writeSyncResult(w http.ResponseWriter, filename string, pdf []byte, res converter.Result, err error) {
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res.Err != nil {
		// engine stderr travels back verbatim
		writeJSONError(w, res.Detail, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+converter.OutputName(filename)+`"`)
	_, _ = w.Write(pdf)
}

// ConvertStaged converts a file already present in the shared directory.
// This is the worker's callback; the PDF stays staged for later retrieval.
func (h *Handler) ConvertStaged(w http.ResponseWriter, r *http.Request) {
	params := ConvertStagedParams{
		Filename:       r.PostFormValue("filename"),
		LoOptions:      r.PostFormValue("lo_options"),
		DeleteOriginal: parseBool(r.PostFormValue("delete_original")),
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	outputName, res, err := h.dispatcher.ConvertStaged(r.Context(), params.Filename, params.LoOptions, params.DeleteOriginal)
	if errors.Is(err, dispatch.ErrNotStaged) {
		writeJSONError(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res.Err != nil {
		writeJSONError(w, res.Detail, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "pdf": outputName})
}

// CheckPDF serves a finished PDF. With ?delete=true the file is removed in
// the background strictly after the body has been written.
func (h *Handler) CheckPDF(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	f, err := h.dispatcher.Fetch(filename)
	if err != nil {
		writeJSONError(w, "PDF not ready", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("[handler] streaming %s aborted: %v", filename, err)
		return
	}

	if parseBool(r.URL.Query().Get("delete")) {
		h.dispatcher.ScheduleDelete(filename)
		log.Printf("[handler] scheduled deletion of pdf after response: %s", filename)
	}
}

// GetFile serves any staged file (input or output).
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	f, err := h.dispatcher.Fetch(filename)
	if err != nil {
		writeJSONError(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// DeleteFile removes a staged file. Deleting a missing file is a no-op, not
// an error.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PostFormValue("filename")
	if filename == "" {
		writeJSONError(w, "filename is required", http.StatusBadRequest)
		return
	}
	h.dispatcher.DeleteFile(r.Context(), filename)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueueStats reports the current stream depth. null when the broker cannot
// be reached.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	var queueLen *int64
	if n, err := h.stats.Len(r.Context()); err == nil {
		queueLen = &n
	} else {
		log.Printf("[handler] failed to fetch queue stats: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]*int64{"queue_len": queueLen})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// acceptUpload parses the multipart form, sniffs the payload, and validates
// the option string. Returns ok=false after writing the error response.
func (h *Handler) acceptUpload(w http.ResponseWriter, r *http.Request) (string, io.ReadCloser, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	if err := r.ParseMultipartForm(h.cfg.Upload.MaxMultipartMemoryMB << 20); err != nil {
		writeMultipartError(w, err)
		return "", nil, "", false
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			writeJSONError(w, `missing upload: form field key should be "file"`, http.StatusBadRequest)
		} else {
			writeJSONError(w, "an error occurred while uploading the file: "+err.Error(), http.StatusBadRequest)
		}
		return "", nil, "", false
	}

	params := ConvertParams{LoOptions: r.FormValue("lo_options")}
	if err := h.validator.Struct(params); err != nil {
		file.Close()
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return "", nil, "", false
	}

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		file.Close()
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return "", nil, "", false
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return "", nil, "", false
	}
	if err := validateMimeType(mime.String()); err != nil {
		file.Close()
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return "", nil, "", false
	}

	return fh.Filename, file, params.LoOptions, true
}
