package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeDuplicateEvent     ErrorCode = "DUPLICATE_EVENT"
	ErrCodeInsufficientEscrow ErrorCode = "INSUFFICIENT_ESCROW"
	ErrCodeExternalDependency ErrorCode = "EXTERNAL_DEPENDENCY"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidTransition, ErrCodeInsufficientEscrow:
		return http.StatusConflict
	case ErrCodeDuplicateEvent:
		// Дубликат webhook-события — это успех для отправителя.
		return http.StatusOK
	case ErrCodeExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeForbidden
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

func IsInvalidTransition(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidTransition
}

func IsDuplicateEvent(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeDuplicateEvent
}

func IsInsufficientEscrow(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInsufficientEscrow
}

var (
	ErrEngagementNotFound   = New(ErrCodeNotFound, "проект не найден")
	ErrMilestoneNotFound    = New(ErrCodeNotFound, "веха не найдена")
	ErrMatchNotFound        = New(ErrCodeNotFound, "предложение метчинга не найдено")
	ErrDisputeNotFound      = New(ErrCodeNotFound, "спор не найден")
	ErrVerificationNotFound = New(ErrCodeNotFound, "верификация не найдена")
	ErrProviderNotFound     = New(ErrCodeNotFound, "фрилансер не найден")
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
)
