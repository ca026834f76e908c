package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "tassiac")
	userID := uuid.New()

	tokenStr, expiresAt, err := svc.Generate(userID, "treasurer")
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "treasurer", claims.Role)
}

func TestJWTTokenService_Rejects(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "tassiac")

	expired, _, err := NewJWTTokenService(testJWTSecret, -time.Hour, "tassiac").Generate(uuid.New(), "admin")
	require.NoError(t, err)
	otherSecret, _, err := NewJWTTokenService("secret-2", time.Hour, "tassiac").Generate(uuid.New(), "admin")
	require.NoError(t, err)
	otherIssuer, _, err := NewJWTTokenService(testJWTSecret, time.Hour, "elsewhere").Generate(uuid.New(), "admin")
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		Issuer:    "tassiac",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: uuid.NewString(),
		Issuer:  "tassiac",
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"different secret", otherSecret},
		{"different issuer", otherIssuer},
		{"subject not a uuid", badSubject},
		{"no expiry", noExpiry},
		{"garbage", "not.a.valid.jwt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}
