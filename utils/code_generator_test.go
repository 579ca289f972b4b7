package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGeneratePaymentNo(t *testing.T) {
	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^PAY-202403-[A-Z0-9]{6}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		no := GeneratePaymentNo(at)
		assert.Regexp(t, pattern, no)
		seen[no] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestGenerateTempPassword(t *testing.T) {
	password := GenerateTempPassword()
	assert.Len(t, password, 12)
	for _, r := range password {
		assert.Contains(t, passwordCharset, string(r))
	}
	assert.NotEqual(t, password, GenerateTempPassword())
}
