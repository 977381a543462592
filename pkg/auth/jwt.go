package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer          = "slotgrid"
	AudienceAccess  = "access"
	AudienceRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

type AccessClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Family identifies a refresh-token lineage and the position within it.
type Family struct {
	ID      string `json:"id"`
	Version int    `json:"ver"`
}

type RefreshClaims struct {
	UID    string `json:"uid"`
	Family Family `json:"fam"`
	jwt.RegisteredClaims
}

func NewAccessToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{AudienceAccess},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// NewRefreshToken signs a refresh token whose jti is the storage row id.
func NewRefreshToken(userID, rowID string, fam Family, expiresAt time.Time, secret string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		UID:    userID,
		Family: fam,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rowID,
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Audience:  []string{AudienceRefresh},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
}

// ParseAccess verifies signature, expiry, issuer and audience.
func ParseAccess(tokenString, secret string) (*AccessClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, keyFunc(secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(AudienceAccess),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid || claims.UID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token. With allowExpired the expiry check
// is skipped, which logout uses to revoke a family after the token lapsed.
func ParseRefresh(tokenString, secret string, allowExpired bool) (*RefreshClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(AudienceRefresh),
	}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	tok, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, keyFunc(secret), opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*RefreshClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.UID == "" || claims.Family.ID == "" || claims.Family.Version < 1 {
		return nil, ErrInvalidToken
	}
	if allowExpired && (claims.Issuer != Issuer || !hasAudience(claims.Audience, AudienceRefresh)) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
