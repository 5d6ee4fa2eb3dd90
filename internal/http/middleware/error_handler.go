package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/talentflow-backend/internal/logger"
	"github.com/ignatzorin/talentflow-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Маскирует внутренние ошибки и возвращает понятные сообщения клиенту.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() {
			return
		}

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			if logger.Log != nil {
				logger.Log.WithFields(logrus.Fields{
					"error":  err.Error(),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Request error")
			}

			var appErr *apperror.AppError
			if errors.As(err.Err, &appErr) {
				c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка сервера"})
		}
	}
}
