package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token use values carried in the token_use claim. Refresh tokens can only
// be exchanged, never presented as credentials.
const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// JWTManager signs and validates access and refresh tokens.
type JWTManager struct {
	signingKey    []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(signingKey string, accessExpiry, refreshExpiry time.Duration) *JWTManager {
	return &JWTManager{
		signingKey:    []byte(signingKey),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		issuer:        "plume",
	}
}

// Claims are the JWT claims carried by plume tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email    string   `json:"email,omitempty"`
	Role     string   `json:"role"`
	Scopes   []string `json:"scopes,omitempty"`
	TokenUse string   `json:"token_use"`
}

// GenerateTokenPair issues an access and a refresh token for a user. Both are
// signed JWTs; nothing is persisted server side.
func (j *JWTManager) GenerateTokenPair(userID, email, role string) (*TokenPair, error) {
	access, err := j.sign(userID, email, role, tokenUseAccess, j.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refresh, err := j.sign(userID, email, role, tokenUseRefresh, j.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(j.accessExpiry.Seconds()),
	}, nil
}

func (j *JWTManager) sign(userID, email, role, use string, expiry time.Duration) (string, error) {
	if len(j.signingKey) == 0 {
		return "", fmt.Errorf("jwt signing key is not configured")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Email:    email,
		Role:     role,
		TokenUse: use,
	}
	if use == tokenUseAccess {
		claims.Scopes = scopesForRole(role)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.signingKey)
}

// ValidateAccessToken validates and parses a JWT access token.
func (j *JWTManager) ValidateAccessToken(tokenString string) (*UserContext, error) {
	claims, err := j.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseAccess {
		return nil, fmt.Errorf("not an access token")
	}

	return &UserContext{
		UserID:     claims.Subject,
		Email:      claims.Email,
		Role:       claims.Role,
		Scopes:     claims.Scopes,
		AuthMethod: "jwt",
	}, nil
}

// RefreshTokenPair exchanges a valid refresh token for a new token pair.
// Rotation is stateless: the old refresh token stays valid until its expiry.
func (j *JWTManager) RefreshTokenPair(refreshToken string) (*TokenPair, error) {
	claims, err := j.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return nil, fmt.Errorf("not a refresh token")
	}
	return j.GenerateTokenPair(claims.Subject, claims.Email, claims.Role)
}

func (j *JWTManager) parse(tokenString string) (*Claims, error) {
	if len(j.signingKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Issuer != j.issuer {
		return nil, fmt.Errorf("invalid token issuer")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// ExtractBearerToken extracts the token from an Authorization header.
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[7:], nil
}
