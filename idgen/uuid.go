package idgen

import "github.com/google/uuid"

// Generator produces string identifiers.
type Generator func() string

var _uuidGenerator Generator = uuid.NewString

// NewUUID returns a random (v4) UUID string.
func NewUUID() string {
	return _uuidGenerator()
}

// UseUUID replaces the UUID generator, typically with a deterministic one in
// tests. A nil fn restores the default.
func UseUUID(fn Generator) {
	if fn == nil {
		fn = uuid.NewString
	}
	_uuidGenerator = fn
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
