package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbeoliero/ecommunity/pkg/errcode"
	"github.com/mbeoliero/ecommunity/pkg/identity"
)

// UserMetadata is the profile block the auth provider embeds in access tokens
type UserMetadata struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar_url,omitempty"`
}

// AppMetadata is the provider-controlled block carrying the role
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims represents access token claims
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
	jwt.RegisteredClaims
}

// GenerateToken signs claims with HS256
func GenerateToken(claims *Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken parses an access token.
// With an empty secret the signature is not checked, only the expiry.
func ParseAccessToken(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, errcode.ErrTokenMissing
	}

	if secret == "" {
		return parseUnverified(tokenString)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errcode.ErrTokenExpired
		}
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errcode.ErrTokenInvalid
}

func parseUnverified(tokenString string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errcode.ErrTokenInvalid
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, errcode.ErrTokenExpired
	}
	return claims, nil
}

// ToIdentity converts claims to the session identity.
// defaultRole applies when the token carries no role.
func (c *Claims) ToIdentity(defaultRole identity.RoleType) (*identity.Identity, error) {
	if c.Subject == "" {
		return nil, errcode.ErrTokenInvalid.Wrap(errors.New("subject is empty"))
	}

	role := defaultRole
	if c.AppMetadata.Role != "" {
		parsed, err := identity.ParseRole(c.AppMetadata.Role)
		if err != nil {
			return nil, errcode.ErrTokenInvalid.Wrap(err)
		}
		role = parsed
	}
	if role == "" {
		role = identity.RoleMember
	}

	return &identity.Identity{
		Id:    c.Subject,
		Name:  c.UserMetadata.Name,
		Email: c.Email,
		Role:  role,
	}, nil
}
