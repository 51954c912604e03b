package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore persists binary attachment payloads outside the relational
// database and serves them back by public URL.
type ObjectStore interface {
	// Upload writes an object and returns the URL clients use to fetch it.
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// AttachmentKey builds the canonical object key for a message attachment.
// The original filename only contributes its extension; the basename is
// replaced with a fresh UUID so uploads can never collide or traverse paths.
func AttachmentKey(channelID, messageID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("message-attachments/%s/%s/%s%s", channelID, messageID, uuid.NewString(), ext)
}
