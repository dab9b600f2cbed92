package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(NewID())
	require.NoError(t, err)
	assert.NotEqual(t, NewID(), NewID())
}

func TestNewPeerIDKeepsUserPrefix(t *testing.T) {
	a := NewPeerID("u-42")
	b := NewPeerID("u-42")

	assert.True(t, strings.HasPrefix(a, "u-42-"))
	assert.Len(t, strings.TrimPrefix(a, "u-42-"), 10)
	assert.NotEqual(t, a, b)
}
