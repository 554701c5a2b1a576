package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndList(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("session-b")
	r.Register("session-a")
	r.Register("session-a")
	assert.Equal(t, []string{"session-a", "session-b"}, r.List())
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("session-a")
	r.Remove("session-a")
	r.Remove("unknown")
	assert.Empty(t, r.List())
}
