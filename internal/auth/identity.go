// Package auth resolves who the local participant is.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated local user.
type Identity struct {
	ID    string
	Name  string
	Email string
}

// Provider returns the current identity or ErrUnauthenticated.
type Provider interface {
	Current() (Identity, error)
}

// StaticProvider always returns the same identity. An empty ID means nobody
// is signed in.
type StaticProvider struct {
	Identity Identity
}

func (p StaticProvider) Current() (Identity, error) {
	if p.Identity.ID == "" {
		return Identity{}, ErrUnauthenticated
	}
	id := p.Identity
	if strings.TrimSpace(id.Name) == "" {
		id.Name = id.ID
	}
	return id, nil
}

// JWTProvider resolves the identity from a signed token.
type JWTProvider struct {
	svc   *JWTService
	token string
}

func NewJWTProvider(svc *JWTService, token string) *JWTProvider {
	return &JWTProvider{svc: svc, token: token}
}

// Token returns the raw token, for transports that forward it.
func (p *JWTProvider) Token() string { return p.token }

func (p *JWTProvider) Current() (Identity, error) {
	if p.token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := p.svc.Validate(p.token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	name := claims.Name
	if strings.TrimSpace(name) == "" {
		name = claims.UserID
	}
	return Identity{ID: claims.UserID, Name: name, Email: claims.Email}, nil
}
