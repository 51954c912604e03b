package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentKeyShape(t *testing.T) {
	key := AttachmentKey("chan-1", "msg-1", "Floor Plan.PNG")

	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "message-attachments", parts[0])
	assert.Equal(t, "chan-1", parts[1])
	assert.Equal(t, "msg-1", parts[2])
	assert.True(t, strings.HasSuffix(parts[3], ".png"))

	// The original basename never leaks into the key.
	assert.NotContains(t, key, "Floor Plan")
}

func TestAttachmentKeyUnique(t *testing.T) {
	a := AttachmentKey("c", "m", "a.pdf")
	b := AttachmentKey("c", "m", "a.pdf")
	assert.NotEqual(t, a, b)
}

func TestAttachmentKeyWithoutExtension(t *testing.T) {
	key := AttachmentKey("c", "m", "README")
	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.NotContains(t, parts[3], ".")
}
