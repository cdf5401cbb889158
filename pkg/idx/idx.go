// Package idx generates the ULID request ids the SDK attaches to outbound
// calls and log lines. IDs are lexicographically sortable, so interleaved
// logs from concurrent requests still order by issue time.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero is the empty ID.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
)

// New returns a new ID for the current time. A shared monotonic entropy
// source keeps IDs issued within the same millisecond strictly ordered.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt returns an ID stamped with the given time, useful in tests.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	if entropy == nil {
		entropy = ulid.Monotonic(rand.Reader, 0)
	}
	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Parse validates a ULID string and returns it as an ID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

func (id ID) IsZero() bool { return id == Zero }

func (id ID) String() string { return string(id) }

// Time extracts the embedded UTC timestamp, or the zero time for invalid
// IDs.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
