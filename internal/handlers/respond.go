package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"
	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/models"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"

	maxBodyBytes = 1 << 20
)

var errUnauthorized = errors.New("unauthorized")

func wantsCBOR(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == contentTypeCBOR {
			return true
		}
	}
	return false
}

// writeResponse encodes v as CBOR when the client asks for it and as JSON
// otherwise.
func writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsCBOR(r) {
		data, err := cbor.Marshal(v)
		if err != nil {
			slog.Error("cbor_encode_failed", "path", r.URL.Path, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		w.WriteHeader(status)
		w.Write(data)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json_encode_failed", "path", r.URL.Path, "error", err)
	}
}

// decodeBody reads a JSON or CBOR request body into v.
func decodeBody(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mediaType == contentTypeCBOR {
		err = cbor.NewDecoder(body).Decode(v)
	} else {
		err = json.NewDecoder(body).Decode(v)
	}
	if err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

type errorBody struct {
	Error      string `json:"error"`
	QuotaBytes int64  `json:"quota_bytes,omitempty"`
	QuotaMB    int64  `json:"quota_mb,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *models.AttachmentTooLargeError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeResponse(w, r, http.StatusRequestEntityTooLarge, errorBody{
			Error:      tooLarge.Error(),
			QuotaBytes: tooLarge.Quota,
			QuotaMB:    tooLarge.Quota / models.MB,
		})
	case errors.As(err, &maxBytes):
		writeResponse(w, r, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
	case errors.Is(err, errUnauthorized):
		writeResponse(w, r, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
	case errors.Is(err, models.ErrForbidden):
		writeResponse(w, r, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrAlreadyMember),
		errors.Is(err, models.ErrNotAMember),
		errors.Is(err, models.ErrUsernameTaken):
		writeResponse(w, r, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrInvalidTarget),
		errors.Is(err, models.ErrInvalidChannel),
		errors.Is(err, models.ErrInvalidProfile),
		errors.Is(err, errBadRequest):
		writeResponse(w, r, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeResponse(w, r, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		slog.Debug("request_cancelled", "method", r.Method, "path", r.URL.Path)
	default:
		slog.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeResponse(w, r, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func currentUser(r *http.Request) (int64, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return 0, errUnauthorized
	}
	return id, nil
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

// queryID parses an optional non-negative integer query parameter; absent
// means zero.
func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}
