package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims はアクセストークンに含めるクレーム。
type sessionClaims struct {
	UserID    string
	SessionID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenIssuer はHS256でアクセストークンを署名・検証する。
type tokenIssuer struct {
	secret []byte
}

func (t *tokenIssuer) sign(c sessionClaims) (string, error) {
	claims := jwt.MapClaims{
		"sub":   c.UserID,
		"sid":   c.SessionID,
		"email": c.Email,
		"jti":   uuid.NewString(),
		"iat":   c.IssuedAt.Unix(),
		"exp":   c.ExpiresAt.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// parse はトークンの署名を検証してクレームを取り出す。
// validateExpiry がfalseの場合は期限切れのトークンも受け付ける。
func (t *tokenIssuer) parse(tokenString string, validateExpiry bool) (*sessionClaims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	sessionID, _ := claims["sid"].(string)
	if userID == "" || sessionID == "" {
		return nil, errors.New("token is missing subject or session")
	}
	email, _ := claims["email"].(string)

	out := &sessionClaims{UserID: userID, SessionID: sessionID, Email: email}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}
