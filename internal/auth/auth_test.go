package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("u-1", "Alice", "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u-1" || claims.Name != "Alice" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTRejectsWrongSecretAndExpiry(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("u-1", "Alice", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewJWTService("other", 1).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken for wrong secret, got %v", err)
	}

	later := NewJWTService("secret", 1)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken for expired token, got %v", err)
	}
}

func TestProviders(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, _ := svc.Generate("u-2", "", "")

	tests := []struct {
		name     string
		provider Provider
		wantID   string
		wantName string
		wantErr  error
	}{
		{"static", StaticProvider{Identity: Identity{ID: "u-1", Name: "Alice"}}, "u-1", "Alice", nil},
		{"static without name", StaticProvider{Identity: Identity{ID: "u-1"}}, "u-1", "u-1", nil},
		{"static signed out", StaticProvider{}, "", "", ErrUnauthenticated},
		{"jwt", NewJWTProvider(svc, token), "u-2", "u-2", nil},
		{"jwt missing token", NewJWTProvider(svc, ""), "", "", ErrUnauthenticated},
		{"jwt garbage", NewJWTProvider(svc, "not-a-token"), "", "", ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.provider.Current()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if id.ID != tt.wantID || id.Name != tt.wantName {
				t.Fatalf("got %+v", id)
			}
		})
	}
}
