package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 255))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// "é" 占两个字节，第255字节落在字符中间
	ua := strings.Repeat("a", 254) + strings.Repeat("é", 10)
	got := truncate(ua, 255)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 254), got)

	got = truncate(strings.Repeat("中", 100), 255)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 255)
}
