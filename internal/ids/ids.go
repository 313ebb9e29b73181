// Package ids issues sortable identifiers for stored rows and request correlation.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID string. Values created by one process sort by creation time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID with the timestamp portion set to t.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Tag returns a short lower-case token suitable for embedding in marker text.
func Tag() string {
	id := New()
	return strings.ToLower(id[len(id)-10:])
}
