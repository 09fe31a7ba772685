package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	spltransfer "github.com/pai-labs/spltransfer"
)

var statusByCode = map[string]int{
	spltransfer.ErrCodeTransport:            http.StatusBadGateway,
	spltransfer.ErrCodeResourceNotFound:     http.StatusNotFound,
	spltransfer.ErrCodeInvalidOwner:         http.StatusUnprocessableEntity,
	spltransfer.ErrCodeInvalidResourceState: http.StatusUnprocessableEntity,
	spltransfer.ErrCodeProvisioningTimeout:  http.StatusGatewayTimeout,
	spltransfer.ErrCodeRetryExhausted:       http.StatusGatewayTimeout,
	spltransfer.ErrCodeZeroAmount:           http.StatusBadRequest,
	spltransfer.ErrCodeInvalidAmount:        http.StatusBadRequest,
	spltransfer.ErrCodeInsufficientFunds:    http.StatusUnprocessableEntity,
	spltransfer.ErrCodeInstructionFailed:    http.StatusUnprocessableEntity,
	spltransfer.ErrCodeOutcomeUnknown:       http.StatusInternalServerError,
	spltransfer.ErrCodeDuplicateRequest:     http.StatusConflict,
	spltransfer.ErrCodeRequestConflict:      http.StatusConflict,
}

// StatusFor maps an error to the HTTP status the API answers with
func StatusFor(err error) int {
	var le *spltransfer.LedgerError
	if errors.As(err, &le) {
		if status, ok := statusByCode[le.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := StatusFor(err)

	resp := ErrorResponse{Code: CodeInternal, Message: err.Error()}
	var le *spltransfer.LedgerError
	if errors.As(err, &le) {
		resp.Code = le.Code
		resp.Details = le.Details
	}

	entry := log.WithError(err).WithFields(log.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, resp)
}

func abortBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: err.Error()})
}
