package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsNormalize(t *testing.T) {
	tests := []struct {
		name string
		req  CredentialsRequest
		want string
	}{
		{"valid", CredentialsRequest{"alice", "alice@example.com", "secret1"}, ""},
		{"blank username", CredentialsRequest{"   ", "alice@example.com", "secret1"}, "All fields are required"},
		{"missing email", CredentialsRequest{"alice", "", "secret1"}, "All fields are required"},
		{"missing password", CredentialsRequest{"alice", "alice@example.com", ""}, "All fields are required"},
		{"bad email", CredentialsRequest{"alice", "alice@", "secret1"}, "invalid email format"},
		{"short password", CredentialsRequest{"alice", "alice@example.com", "12345"}, "password must be at least 6 characters"},
		{"long password", CredentialsRequest{"alice", "alice@example.com", strings.Repeat("x", 73)}, "password must be at most 72 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			assert.Equal(t, tt.want, req.normalize())
		})
	}
}

func TestCredentialsNormalizeCleansFields(t *testing.T) {
	req := CredentialsRequest{Username: "  al\x00ice ", Email: " Alice@Example.COM ", Password: "secret1"}
	assert.Empty(t, req.normalize())
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "alice@example.com", req.Email)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "bob", sanitizeName("\tbob\n"))
	assert.Len(t, []rune(sanitizeName(strings.Repeat("é", 80))), 50)
	assert.Equal(t, strings.Repeat("é", 50), sanitizeName(strings.Repeat("é", 80)))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, isValidEmail("a.b+c@example.co"))
	assert.False(t, isValidEmail("no-at-sign"))
	assert.False(t, isValidEmail("a@b"))
	assert.False(t, isValidEmail(strings.Repeat("a", 250)+"@example.com"))
}
