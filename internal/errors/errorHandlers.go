package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"glowscan_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "VALIDATION_ERROR"
	ErrorTypeUnauthorized        ErrorType = "UNAUTHORIZED"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeFrameDropped        ErrorType = "FRAME_DROPPED"
	ErrorTypePayloadTooLarge     ErrorType = "PAYLOAD_TOO_LARGE"
	ErrorTypeQuotaExceeded       ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeInferenceFailed     ErrorType = "INFERENCE_FAILED"
	ErrorTypeInferenceTimeout    ErrorType = "INFERENCE_TIMEOUT"
	ErrorTypeInternalServerError ErrorType = "INTERNAL_SERVER_ERROR"
)

const analysisFailed = "analysis failed"

// CustomError represents a custom error with associated HTTP status code and type
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *CustomError) Error() string {
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Internal
}

func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

func New400Error(message string) *CustomError {
	return newError(ErrorTypeValidation, message, http.StatusBadRequest, nil)
}

func New401Error() *CustomError {
	return newError(ErrorTypeUnauthorized, "Unauthorized access", http.StatusUnauthorized, nil)
}

func New404Error(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

func New409FrameDropped() *CustomError {
	return newError(ErrorTypeFrameDropped, services.ErrFrameDropped.Error(), http.StatusConflict, nil)
}

func New413Error() *CustomError {
	return newError(ErrorTypePayloadTooLarge, "upload too large", http.StatusRequestEntityTooLarge, nil)
}

// New429Error names the tier and plan so clients can show an upgrade prompt.
func New429Error(decision services.QuotaDecision) *CustomError {
	message := fmt.Sprintf(
		"Daily analysis quota exceeded for %s on the %s plan (%d/%d used today). Upgrade your plan or try again tomorrow.",
		decision.Tier, decision.PlanID, decision.Used, decision.Limit,
	)
	return newError(ErrorTypeQuotaExceeded, message, http.StatusTooManyRequests, nil)
}

func New502Error(internal error) *CustomError {
	return newError(ErrorTypeInferenceFailed, analysisFailed, http.StatusBadGateway, internal)
}

func New504Error(internal error) *CustomError {
	return newError(ErrorTypeInferenceTimeout, analysisFailed, http.StatusGatewayTimeout, internal)
}

func New500Error(internal error) *CustomError {
	return newError(ErrorTypeInternalServerError, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

// FromService maps service-layer errors onto the HTTP taxonomy.
func FromService(err error) *CustomError {
	var customErr *CustomError
	if stderrors.As(err, &customErr) {
		return customErr
	}

	var quotaErr *services.QuotaExceededError
	var maxBytesErr *http.MaxBytesError
	switch {
	case stderrors.As(err, &quotaErr):
		return New429Error(quotaErr.Decision)
	case stderrors.Is(err, services.ErrValidation):
		return New400Error(strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": "))
	case stderrors.Is(err, services.ErrConversationNotFound):
		return New404Error("conversation not found")
	case stderrors.Is(err, services.ErrMessageNotFound):
		return New404Error("message not found")
	case stderrors.Is(err, services.ErrUserNotFound):
		return New404Error("user not found")
	case stderrors.Is(err, services.ErrFrameDropped):
		return New409FrameDropped()
	case stderrors.Is(err, services.ErrInferenceTimeout):
		return New504Error(err)
	case stderrors.Is(err, services.ErrInferenceBackend):
		return New502Error(err)
	case stderrors.As(err, &maxBytesErr):
		return New413Error()
	default:
		return New500Error(err)
	}
}

// HandleError logs server-side failures and writes {"detail": message}.
func HandleError(c *gin.Context, err error) {
	customErr := FromService(err)
	log := zerolog.Ctx(c.Request.Context())

	if customErr.StatusCode >= http.StatusInternalServerError {
		log.Error().
			Err(customErr.Internal).
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg("Request failed")
	} else {
		log.Debug().
			Str("type", string(customErr.Type)).
			Str("detail", customErr.Message).
			Msg("Request rejected")
	}

	c.AbortWithStatusJSON(customErr.StatusCode, gin.H{"detail": customErr.Message})
}
