package errors

import (
	"strings"
	"unicode"
)

// maxNameLength bounds file and chunk names. Chunk names append a
// "-chunk-N" suffix, and several providers cap object keys at 1024 bytes.
const maxNameLength = 255

// ValidateFileName validates the logical name a file is stored under.
// It rejects names that could be used for path traversal on backends that
// map chunk names onto paths (local directories, Dropbox, Drive folders).
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters or null bytes
//   - No path separators
//   - No "." or ".." and no hidden files
//   - Maximum length of 255 bytes
func ValidateFileName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "file name cannot be empty")
	}

	if len(name) > maxNameLength {
		return New(ErrCodeInvalidInput, "file name too long (max %d characters)", maxNameLength)
	}

	for _, r := range name {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "file name contains invalid control characters")
		}
	}

	if strings.ContainsAny(name, "/\\") {
		return New(ErrCodeInvalidInput, "file name cannot contain path separators: %q", name)
	}

	if strings.HasPrefix(name, ".") {
		return New(ErrCodeInvalidInput, "file name cannot be a hidden file or relative path: %q", name)
	}

	return nil
}

// ValidateStorageID validates a storage system identifier as recorded in
// chunk metadata (for example "dropbox:dbid:AAH4f" or "local:/var/chunks").
func ValidateStorageID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "storage id cannot be empty")
	}
	provider, rest, ok := strings.Cut(id, ":")
	if !ok || provider == "" || rest == "" {
		return New(ErrCodeInvalidInput, "storage id must have the form provider:identity, got %q", id)
	}
	return nil
}
