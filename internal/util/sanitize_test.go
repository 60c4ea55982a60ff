package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "", SanitizeForLog(""))
	assert.Equal(t, "plain text", SanitizeForLog("plain text"))
	assert.Equal(t, "a b", SanitizeForLog("a\nb"))
	assert.Equal(t, "a b", SanitizeForLog("a\r\nb"))
	assert.Equal(t, "a b", SanitizeForLog("a\x00\x1fb"))
	assert.Equal(t, "fake entry  injected", SanitizeForLog("fake entry\n\tinjected"))
}
