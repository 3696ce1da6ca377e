package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "meetbot"
	// DefaultTokenDuration covers the longest meeting a bot is expected to attend
	DefaultTokenDuration = 24 * time.Hour
)

// BotClaims are the claims of a bot callback token
type BotClaims struct {
	jwt.RegisteredClaims
	BotID int64 `json:"bot_id"`
}

// JWTManager signs and validates bot callback tokens with Ed25519
type JWTManager struct {
	privateKey    ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	tokenDuration time.Duration
	now           func() time.Time
}

var _ AuthnProvider = (*JWTManager)(nil)

// GenerateSeed returns a random hex-encoded Ed25519 seed
func GenerateSeed() (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("failed to generate key seed: %w", err)
	}
	return hex.EncodeToString(seed), nil
}

// NewJWTManager creates a manager from a hex-encoded Ed25519 seed
func NewJWTManager(hexSeed string, tokenDuration time.Duration) (*JWTManager, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("JWT private key must be a valid hex-encoded string: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("JWT private key seed must be exactly %d bytes for Ed25519, got %d bytes", ed25519.SeedSize, len(seed))
	}
	if tokenDuration <= 0 {
		tokenDuration = DefaultTokenDuration
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	return &JWTManager{
		privateKey:    privateKey,
		publicKey:     privateKey.Public().(ed25519.PublicKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}, nil
}

// IssueBotToken signs a token that lets the bot report on itself
func (j *JWTManager) IssueBotToken(botID int64) (string, error) {
	now := j.now()
	claims := BotClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(botID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
		},
		BotID: botID,
	}
	token, err := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, claims).SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a bot token and returns its claims
func (j *JWTManager) ValidateToken(_ context.Context, tokenString string) (*BotClaims, error) {
	// This also validates expiry
	token, err := jwt.ParseWithClaims(
		tokenString,
		&BotClaims{},
		func(_ *jwt.Token) (any, error) { return j.publicKey, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*BotClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.BotID == 0 {
		return nil, fmt.Errorf("token carries no bot id")
	}
	return claims, nil
}

type botSession struct {
	claims *BotClaims
}

func (s *botSession) Principal() Principal {
	return Principal{BotID: s.claims.BotID}
}

// Authenticate reads a bearer token. No header means no session; a bad token is an error.
func (j *JWTManager) Authenticate(ctx context.Context, reqHeaders func(name string) string) (Session, error) {
	const bearerPrefix = "Bearer "
	authHeader := reqHeaders("Authorization")
	if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return nil, nil
	}
	claims, err := j.ValidateToken(ctx, authHeader[len(bearerPrefix):])
	if err != nil {
		return nil, err
	}
	return &botSession{claims: claims}, nil
}
