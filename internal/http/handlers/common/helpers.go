package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/http/middleware"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
)

var (
	// ErrUserNotFound возвращается, когда пользователь не найден в контексте.
	ErrUserNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID возвращается при ошибке парсинга UUID.
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentUserID извлекает userID из gin-контекста.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// CurrentUserRole извлекает роль пользователя из gin-контекста.
func CurrentUserRole(c *gin.Context) (string, error) {
	raw, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return "", ErrUserNotFound
	}

	role, ok := raw.(string)
	if !ok {
		return "", ErrUserNotFound
	}

	return role, nil
}

// ParseUUIDParam парсит UUID из URL-параметра.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// RespondError отправляет стандартизованный ответ с ошибкой.
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}

// RespondServiceError разбирает ошибку сервисного слоя и отвечает статусом
// из неё. Неизвестные ошибки маскируются как 500, чтобы не утекали детали
// SQL и внутренней кухни.
func RespondServiceError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		body := gin.H{"error": appErr.Message, "code": appErr.Code}
		// Дубликат webhook-события отдаётся как успех: шлюзу нельзя
		// показывать ошибку, иначе он будет ретраить вечно.
		if appErr.Code == apperror.ErrCodeDuplicateEvent {
			body = gin.H{"status": "ok", "duplicate": true}
		}
		c.JSON(appErr.HTTPStatus, body)
		return
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	}).Error("необработанная ошибка сервиса")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
}

// RespondUnauthorized отправляет 401 Unauthorized.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest отправляет 400 Bad Request.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// ParseIntQuery безопасно читает целочисленный query-параметр с дефолтом.
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination извлекает limit и offset из query-параметров.
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
