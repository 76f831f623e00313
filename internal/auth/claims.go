package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTokenTTL is used when IssuerConfig.TTL is zero.
const DefaultAccessTokenTTL = 15 * time.Minute

// ephemeralSecretBytes is the size of the per-process development secret.
const ephemeralSecretBytes = 32

// Claims are the access-token claims: the registered set plus the caller's
// username and global admin flag. Subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Username      string `json:"username"`
	IsGlobalAdmin bool   `json:"adm"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Caller converts the claims into a session-operation caller.
func (c *Claims) Caller() Caller {
	return Caller{UserID: c.Subject, IsGlobalAdmin: c.IsGlobalAdmin}
}

// Identity is what an access token asserts about its holder.
type Identity struct {
	UserID        string
	Username      string
	IsGlobalAdmin bool
}

// IdentityOf returns the token identity for a user.
func IdentityOf(u *User) Identity {
	return Identity{UserID: u.ID, Username: u.Username, IsGlobalAdmin: u.IsGlobalAdmin}
}

// IssuerConfig configures NewIssuer.
type IssuerConfig struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	Production bool
}

// Issuer signs and validates HS256 access tokens. Validation needs no
// database access.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. In production an empty secret is refused with
// ErrSigningSecretRequired. Elsewhere a random secret is generated, so tokens
// do not survive a restart.
func NewIssuer(cfg IssuerConfig, logger *slog.Logger) (*Issuer, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		if cfg.Production {
			return nil, ErrSigningSecretRequired
		}
		secret = make([]byte, ephemeralSecretBytes)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating ephemeral signing secret: %w", err)
		}
		if logger != nil {
			logger.Warn("no jwt secret configured, using an ephemeral one",
				"action_required", "set security.jwt.secret before production use")
		}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return &Issuer{
		secret: secret,
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the default access-token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs an access token for id with the default TTL.
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	return i.IssueWithTTL(id, i.ttl)
}

// IssueWithTTL signs an access token for id that expires after ttl.
func (i *Issuer) IssueWithTTL(id Identity, ttl time.Duration) (string, time.Time, error) {
	if id.UserID == "" || id.Username == "" {
		return "", time.Time{}, fmt.Errorf("issuing access token: identity is incomplete")
	}

	now := i.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Username:      id.Username,
		IsGlobalAdmin: id.IsGlobalAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks signature, algorithm, issuer and expiry. Every failure
// wraps ErrTokenInvalid.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrTokenInvalid)
	}

	return claims, nil
}
