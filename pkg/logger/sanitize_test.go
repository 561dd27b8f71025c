package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"amara@example.com", "a****@*******.com"},
		{"a@b.io", "a@*.io"},
		{"not-an-email", "[invalid-email]"},
		{"", "[invalid-email]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.input), tt.input)
	}
}

func TestRedactedAttr(t *testing.T) {
	attr := RedactedAttr("token", "secret-value", "production")
	assert.Equal(t, "[REDACTED]", attr.Value.String())

	attr = RedactedAttr("token", "secret-value", "development")
	assert.Equal(t, "secret-value", attr.Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("password=hunter2"))
	assert.True(t, SanitizeQueryString("captchaToken=abc"))
	assert.True(t, SanitizeQueryString("EMAIL=amara%40example.com"))
	assert.False(t, SanitizeQueryString("page=2&sort=asc"))
	assert.False(t, SanitizeQueryString(""))
}
