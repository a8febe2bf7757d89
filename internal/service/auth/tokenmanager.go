package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nstepanov/usermgmt/internal/apperrors"
	"github.com/nstepanov/usermgmt/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
)

// AccessTokenClaims is the typed view of an issued access token used on
// the validation side. Extra per-user claims present in the token are
// ignored by the typed parse.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email  string    `json:"email"`
	UserID uuid.UUID `json:"uid"`
	Roles  []string  `json:"roles,omitempty"`
}

// Token manager config with sensible defaults
type TokenConfig struct {
	// Secret key to sign access tokens
	// Required to be set
	SecretKey string

	// Token issuer and intended audience, both verified on parse
	Issuer   string
	Audience string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then HS256 is used
	Alg string

	// Access token lifetime
	// If not set then default is used
	AccessTTL time.Duration
}

// TokenManager issues and validates signed access tokens. It is a pure
// function of its inputs plus the wall clock; no storage access here.
type TokenManager struct {
	key       string
	alg       jwt.SigningMethod
	issuer    string
	audience  string
	accessTTL time.Duration
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       jwt.GetSigningMethod(cfg.Alg),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		accessTTL: cfg.AccessTTL,
	}, nil
}

// IssueAccessToken builds a signed token for the user: sub=username, a
// fresh jti, email, stable user id, one roles entry per role, plus any
// extra identity claims.
func (m *TokenManager) IssueAccessToken(user models.User, roles []string, claims []models.Claim) (string, time.Time, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	payload := jwt.MapClaims{
		"sub":   user.Username,
		"jti":   uuid.NewString(),
		"iss":   m.issuer,
		"aud":   m.audience,
		"iat":   jwt.NewNumericDate(now),
		"exp":   jwt.NewNumericDate(expiresAt),
		"email": user.Email,
		"uid":   user.ID.String(),
		"roles": roles,
	}

	// Extra claims never shadow the registered ones.
	for _, c := range claims {
		if _, taken := payload[c.Name]; taken {
			continue
		}
		payload[c.Name] = c.Value
	}

	token := jwt.NewWithClaims(m.alg, payload)
	signed, err := token.SignedString([]byte(m.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return signed, expiresAt, nil
}

// ParseAccess validates signature, issuer, audience and lifetime (no
// leeway) and returns the claims.
func (m *TokenManager) ParseAccess(access string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(m.key), nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	return claims, nil
}
