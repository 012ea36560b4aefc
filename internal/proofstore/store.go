package proofstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no artifact exists under a key.
var ErrNotFound = errors.New("proof artifact not found")

// Artifact is a stored deposit-evidence blob.
type Artifact struct {
	Key      string
	MimeType string
	Data     []byte
}

// Store is the proof-artifact blob backend. Deleting a missing key is not
// an error: cleanup is retried blindly after terminal transitions.
type Store interface {
	Put(ctx context.Context, key, mimeType string, data []byte) error
	Get(ctx context.Context, key string) (*Artifact, error)
	Delete(ctx context.Context, key string) error
}
