package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

// StatusClientClosedRequest is reported when the caller abandons a conversion.
const StatusClientClosedRequest = 499

// ConversionHandler handles document conversion requests.
type ConversionHandler struct {
	logger    zerolog.Logger
	converter Converter
	maxBytes  int64
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(logger zerolog.Logger, converter Converter, maxBytes int64) *ConversionHandler {
	return &ConversionHandler{
		logger:    observability.Component(logger, "api"),
		converter: converter,
		maxBytes:  maxBytes,
	}
}

// Create handles POST /v1/conversions. The document is either the raw request
// body or the "file" part of a multipart form. With include_images=false the
// image payloads are omitted from the response.
func (h *ConversionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := h.readDocument(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid document", err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "document is empty", "")
		return
	}

	includeImages := true
	if v := r.URL.Query().Get("include_images"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid include_images", err.Error())
			return
		}
		includeImages = b
	}

	h.logger.Info().
		Str("request_id", chimiddleware.GetReqID(ctx)).
		Int("bytes", len(data)).
		Msg("Starting conversion")

	result, err := h.converter.Convert(ctx, data)
	if err != nil {
		status := statusForError(err)
		h.logger.Error().
			Err(err).
			Str("request_id", chimiddleware.GetReqID(ctx)).
			Int("status", status).
			Msg("Conversion failed")
		writeConversionError(w, status, err)
		return
	}

	if !includeImages {
		for i := range result.Images {
			result.Images[i].Data = nil
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *ConversionHandler) readDocument(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, err
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// statusForError maps a conversion failure onto an HTTP status.
func statusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindRemoteProcessingFailed:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindCanceled:
		return StatusClientClosedRequest
	case domain.KindUploadRejected,
		domain.KindTransferFailed,
		domain.KindMissingLocator,
		domain.KindDownloadFailed,
		domain.KindMalformedContainer,
		domain.KindTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Kind          string `json:"kind,omitempty"`
	BatchID       string `json:"batchId,omitempty"`
	RemoteMessage string `json:"remoteMessage,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

func writeConversionError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Error:   "conversion failed",
		Message: err.Error(),
	}
	var ce *domain.ConversionError
	if errors.As(err, &ce) {
		resp.Kind = string(ce.Kind)
		resp.BatchID = ce.BatchID
		resp.RemoteMessage = ce.RemoteMessage
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Message: message,
		Detail:  detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
