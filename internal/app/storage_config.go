package app

import (
	"strings"

	"github.com/atelier-studio/atelier/internal/storage"
)

// ObjectStoreConfig converts StorageConfig to the storage package representation.
func (c StorageConfig) ObjectStoreConfig() storage.S3Config {
	return storage.S3Config{
		Bucket:        strings.TrimSpace(c.S3.Bucket),
		Region:        strings.TrimSpace(c.S3.Region),
		Endpoint:      strings.TrimSpace(c.S3.Endpoint),
		AccessKey:     strings.TrimSpace(c.S3.AccessKey),
		SecretKey:     strings.TrimSpace(c.S3.SecretKey),
		PublicBaseURL: strings.TrimSpace(c.S3.PublicBaseURL),
	}
}
