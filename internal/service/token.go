package service

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager проверяет access токены. Движок не выпускает токены:
// аутентификация внешняя, сюда приходит уже подписанный JWT.
type TokenManager struct {
	accessSecret []byte
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(accessSecret string) *TokenManager {
	return &TokenManager{accessSecret: []byte(accessSecret)}
}

// ParseAccess извлекает userID и роль из access токена.
func (m *TokenManager) ParseAccess(token string) (uuid.UUID, string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return m.accessSecret, nil
	})
	if err != nil || !parsed.Valid {
		if err == nil {
			err = jwt.ErrTokenInvalidClaims
		}
		return uuid.Nil, "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", jwt.ErrTokenInvalidClaims
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, "", jwt.ErrTokenInvalidClaims
	}

	role, _ := claims["role"].(string)

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", err
	}

	return userID, role, nil
}
