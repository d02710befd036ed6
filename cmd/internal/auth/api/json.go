package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"fintrack/cmd/internal/auth/login"
)

type apiError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds *int64 `json:"retry_after_seconds,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k login.Kind) int {
	switch k {
	case login.KindValidation:
		return http.StatusBadRequest
	case login.KindInvalidCredentials, login.KindInvalidToken, login.KindInvalidCode:
		return http.StatusUnauthorized
	case login.KindExpired:
		return http.StatusGone
	case login.KindNotFound:
		return http.StatusNotFound
	case login.KindConflict:
		return http.StatusConflict
	case login.KindRateLimited, login.KindLocked:
		return http.StatusTooManyRequests
	case login.KindDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return max(s, 1)
}

// writeServiceError renders err, which should be a *login.Error. Anything
// else is reported as internal.
func writeServiceError(w http.ResponseWriter, err error) {
	var e *login.Error
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, string(login.KindInternal), "something went wrong, please try again")
		return
	}

	body := apiError{Code: string(e.Kind), Message: e.Message, AttemptsRemaining: e.AttemptsRemaining}
	if e.Kind == login.KindInternal {
		body.Message = "something went wrong, please try again"
	}
	if (e.Kind == login.KindRateLimited || e.Kind == login.KindLocked) && e.RetryAfter > 0 {
		secs := retrySeconds(e.RetryAfter)
		body.RetryAfterSeconds = &secs
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, statusFor(e.Kind), errorResponse{Error: body})
}

func writeBadBody(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, string(login.KindValidation), "invalid request body")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
