package annotator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by blob stores when the named object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidName is returned when an image name is not a single path segment.
var ErrInvalidName = errors.New("invalid image name")

// AttributeWrite describes one accepted upload of per-image attribute data.
type AttributeWrite struct {
	ID          string    `json:"id"`
	Image       string    `json:"image"`
	Bytes       int64     `json:"bytes"`
	SHA256      string    `json:"sha256"`
	ContentType string    `json:"content_type,omitempty"`
	BlobURI     string    `json:"blob_uri"`
	WrittenAt   time.Time `json:"written_at"`
}

// ValidateName rejects names that would escape the image directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	return nil
}
