package ucp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIVersion is sent in the API-Version header of every response and webhook.
const APIVersion = "0.2.0-mvp"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads exactly one JSON document into v. Failures come back as
// invalid_request errors; unknown fields are reported as the offending param.
func decodeJSON(body io.ReadCloser, v any) *Error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return NewInvalidRequestError("unexpected data after JSON body")
	}
	return nil
}

func bodyError(err error) *Error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return NewInvalidRequestError("request body required")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return NewInvalidRequestError("request body is truncated or exceeds the size limit")
	case errors.As(err, &maxErr):
		return NewInvalidRequestError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
	case errors.As(err, &syntaxErr):
		return NewInvalidRequestError(fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset))
	case errors.As(err, &typeErr):
		return NewInvalidRequestError(fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type),
			WithOffendingParam("$."+typeErr.Field))
	}
	// encoding/json has no typed error for unknown fields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		field = strings.Trim(field, `"`)
		return NewInvalidRequestError("unknown field "+field, WithOffendingParam("$."+field))
	}
	return NewInvalidRequestError(err.Error())
}

func writeServiceError(w http.ResponseWriter, err error) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		writeJSONError(w, httpErr)
		return
	}
	writeJSONError(w, NewProcessingError("internal server error"))
}

// protocolHeaders marks every response with the API version. Session bodies
// carry merchant signatures, so nothing is cacheable.
func protocolHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("API-Version", APIVersion)
	h.Set("Cache-Control", "no-store")
}

func writeJSONError(w http.ResponseWriter, payload *Error) {
	if payload == nil {
		payload = NewProcessingError("internal server error")
	}
	protocolHeaders(w)
	if seconds := retryAfterSeconds(payload.RetryAfter()); seconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	w.WriteHeader(payload.StatusCode())
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	protocolHeaders(w)
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
