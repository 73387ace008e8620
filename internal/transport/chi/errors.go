package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
	"github.com/kailas-cloud/cmskit/internal/logger"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeForbidden        ErrorCode = "forbidden"
	CodeNotFound         ErrorCode = "not_found"
	CodeAlreadyExists    ErrorCode = "already_exists"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeInvalidSchema    ErrorCode = "invalid_schema"
	CodeInvalidPath      ErrorCode = "invalid_path"
	CodeConfiguration    ErrorCode = "configuration_error"
	CodeReadOnly         ErrorCode = "read_only"
	CodeHookFailed       ErrorCode = "hook_failed"
	CodeTooLarge         ErrorCode = "too_large"
	CodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code    ErrorCode                `json:"code"`
	Message string                   `json:"message"`
	Fields  []*validation.FieldError `json:"fields,omitempty"`
	Stage   domain.HookStage         `json:"stage,omitempty"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a message for the client without exposing
// internals. Hook and configuration errors are written by collection
// authors for editors, so their text is passed through.
func safeDomainMessage(err error) string {
	var hookErr *domain.HookError
	if errors.As(err, &hookErr) {
		return hookErr.Err.Error()
	}
	var cfgErr *domain.ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldErrs.First().Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrPermissionDenied,
		domain.ErrInvalidSchema,
		domain.ErrInvalidPath,
		domain.ErrValidation,
		domain.ErrReadOnly,
		domain.ErrUnmounted,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// hookErrorHandler reports a failed lifecycle callback with its stage.
func hookErrorHandler(w http.ResponseWriter, err error, msg string) bool {
	var hookErr *domain.HookError
	if !errors.As(err, &hookErr) {
		return false
	}
	writeJSON(w, http.StatusConflict, ErrorResponse{
		Code:    CodeHookFailed,
		Message: msg,
		Stage:   hookErr.Stage,
	})
	return true
}

// validationHandler lists every field error of a failed validation.
func validationHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrValidation) {
		return false
	}
	resp := ErrorResponse{Code: CodeValidationFailed, Message: msg}
	var fieldErrs validation.Errors
	var fieldErr *validation.FieldError
	switch {
	case errors.As(err, &fieldErrs):
		resp.Fields = fieldErrs
	case errors.As(err, &fieldErr):
		resp.Fields = []*validation.FieldError{fieldErr}
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
	return true
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		hookErrorHandler,
		validationHandler,
		sentinelHandler(domain.ErrConfiguration, http.StatusInternalServerError, CodeConfiguration),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists),
		sentinelHandler(domain.ErrPermissionDenied, http.StatusForbidden, CodeForbidden),
		sentinelHandler(domain.ErrReadOnly, http.StatusForbidden, CodeReadOnly),
		sentinelHandler(domain.ErrInvalidSchema, http.StatusBadRequest, CodeInvalidSchema),
		sentinelHandler(domain.ErrInvalidPath, http.StatusBadRequest, CodeInvalidPath),
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
