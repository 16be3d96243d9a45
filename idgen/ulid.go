package idgen

import "github.com/oklog/ulid/v2"

func defaultULID() string {
	// ulid.Make draws from a process wide monotonic source, so ids created
	// within the same millisecond still sort in creation order.
	return ulid.Make().String()
}

var _ulidGenerator Generator = defaultULID

// NewULID returns a lexically sortable ULID string.
func NewULID() string {
	return _ulidGenerator()
}

// UseULID replaces the ULID generator. A nil fn restores the default.
func UseULID(fn Generator) {
	if fn == nil {
		fn = defaultULID
	}
	_ulidGenerator = fn
}

// IsULID reports whether s is a well formed ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
