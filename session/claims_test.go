package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestUnverifiedSubject(t *testing.T) {
	tests := []struct {
		name    string
		token   func(t *testing.T) string
		want    string
		wantErr bool
	}{
		{
			name:  "sub claim",
			token: func(t *testing.T) string { return signed(t, jwt.MapClaims{"sub": "user-42"}, "k") },
			want:  "user-42",
		},
		{
			name:  "string userId",
			token: func(t *testing.T) string { return signed(t, jwt.MapClaims{"userId": "user-7"}, "k") },
			want:  "user-7",
		},
		{
			name:  "numeric userId",
			token: func(t *testing.T) string { return signed(t, jwt.MapClaims{"userId": 1234}, "k") },
			want:  "1234",
		},
		{
			name:  "signature not checked",
			token: func(t *testing.T) string { return signed(t, jwt.MapClaims{"sub": "forged"}, "attacker-key") },
			want:  "forged",
		},
		{
			name:    "no identifier",
			token:   func(t *testing.T) string { return signed(t, jwt.MapClaims{"role": "referrer"}, "k") },
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   func(*testing.T) string { return "not-a-jwt" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnverifiedSubject(tt.token(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnverifiedSubject() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UnverifiedSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnverifiedSubject_Empty(t *testing.T) {
	if _, err := UnverifiedSubject(""); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("UnverifiedSubject(\"\") error = %v, want %v", err, ErrNoAccessToken)
	}
}

func TestManager_UserID(t *testing.T) {
	token := signed(t, jwt.MapClaims{"sub": "user-42"}, "k")
	m := newTestManager(t, "http://localhost:8080", NewMemoryStore(Tokens{AccessToken: token}))

	got, err := m.UserID(context.Background())
	if err != nil {
		t.Fatalf("UserID() error = %v", err)
	}
	if got != "user-42" {
		t.Errorf("UserID() = %q, want user-42", got)
	}

	// Payload edited in transit still decodes
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + ".c2lnbmF0dXJl"
	if _, err := UnverifiedSubject(tampered); err != nil {
		t.Errorf("UnverifiedSubject(tampered) error = %v", err)
	}
}
