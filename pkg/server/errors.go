package server

import (
	"context"
	"errors"
	"net/http"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[serrors.Code]int{
	serrors.ErrCodeInvalidInput:  http.StatusBadRequest,
	serrors.ErrCodeInvalidConfig: http.StatusBadRequest,
	serrors.ErrCodeInvalidFormat: http.StatusBadRequest,
	serrors.ErrCodeUnsupported:   http.StatusBadRequest,

	serrors.ErrCodeNotFound:        http.StatusNotFound,
	serrors.ErrCodeFileNotFound:    http.StatusNotFound,
	serrors.ErrCodeChunkNotFound:   http.StatusNotFound,
	serrors.ErrCodeStorageNotFound: http.StatusNotFound,

	serrors.ErrCodeFileExists:     http.StatusConflict,
	serrors.ErrCodeChunkExists:    http.StatusConflict,
	serrors.ErrCodeFileIncomplete: http.StatusConflict,

	serrors.ErrCodeUnauthorized:     http.StatusUnauthorized,
	serrors.ErrCodeStorageFull:      http.StatusInsufficientStorage,
	serrors.ErrCodeNoStorage:        http.StatusServiceUnavailable,
	serrors.ErrCodeNetwork:          http.StatusBadGateway,
	serrors.ErrCodeChecksumMismatch: http.StatusBadGateway,
	serrors.ErrCodeTimeout:          http.StatusGatewayTimeout,
}

// statusFor maps an error to an HTTP status. Uncoded errors and internal
// failures are 500.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if status, ok := statusByCode[serrors.GetCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError writes err as a JSON error body. Internal failures get a
// generic message so that backend details are not leaked.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Code: string(serrors.GetCode(err)), Message: serrors.UserMessage(err)}
	if status == http.StatusInternalServerError {
		body = errorBody{Code: string(serrors.ErrCodeInternal), Message: "internal server error"}
	}
	writeJSON(w, status, body)
}
