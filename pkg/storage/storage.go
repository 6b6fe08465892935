package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStore is the opaque-key object storage the application writes images to.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the object bytes and stored content type; types.ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix and returns how many were deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// PresignGet returns a time-limited download URL for key.
	PresignGet(ctx context.Context, key string) (string, error)
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// ExtensionFor returns the file extension for an accepted image media type.
func ExtensionFor(mediaType string) (string, bool) {
	ext, ok := extensions[strings.ToLower(mediaType)]
	return ext, ok
}

// MediaTypeFor returns the image media type for a key's extension.
func MediaTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// UserPrefix is the key prefix owning every object of a user.
func UserPrefix(userID uuid.UUID) string {
	return fmt.Sprintf("users/%s/", userID)
}

// ReferenceKey builds a fresh key for an uploaded reference image.
func ReferenceKey(userID uuid.UUID, ext string) string {
	return fmt.Sprintf("%sreferences/%s.%s", UserPrefix(userID), uuid.New(), ext)
}

// GeneratedKey builds a fresh key for a generated image.
func GeneratedKey(userID uuid.UUID, ext string) string {
	return fmt.Sprintf("%sgenerated/%s.%s", UserPrefix(userID), uuid.New(), ext)
}

// OwnedBy reports whether key lives under the user's prefix and contains no path traversal.
func OwnedBy(key string, userID uuid.UUID) bool {
	if strings.Contains(key, "..") || strings.Contains(key, "//") {
		return false
	}
	return strings.HasPrefix(key, UserPrefix(userID)) && len(key) > len(UserPrefix(userID))
}
