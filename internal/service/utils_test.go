package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "clean statement text", sanitizeText("clean statement text"))
	assert.Equal(t, "café £1,000.00", sanitizeText("café £1,000.00"))
	assert.Equal(t, "Chase Statement", sanitizeText("Chase\x00 Statement"))
	assert.Equal(t, "ab", sanitizeText("a\xffb"))
	assert.Equal(t, "", sanitizeText("\x00\xfe\xff"))
}
