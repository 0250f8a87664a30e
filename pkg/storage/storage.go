// Package storage keeps uploaded build contexts where the builder
// nodes can fetch them.
package storage

import (
	"context"
	"io"
)

const DefaultBucket = "docker-image-upload-bucket"

// Store is an object store holding build contexts.
type Store interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
	// Download gives the object's content. The caller closes it.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ObjectName is the key an uploaded file is stored under, so that the
// same file uploaded for different tags doesn't collide.
func ObjectName(fileName, imageTag string) string {
	return fileName + "_" + imageTag
}
