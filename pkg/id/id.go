package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

// ErrTimeRange is returned for times an id cannot encode: before the Unix
// epoch or past the 48-bit millisecond limit.
var ErrTimeRange = errors.New("time outside id range")

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps ids minted in the same millisecond increasing.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a transaction id for the current time.
func New() string {
	s, err := NewAt(time.Now())
	if err != nil {
		// Only possible when entropy is exhausted within one millisecond.
		panic(err)
	}
	return s
}

// NewAt returns a ULID string whose timestamp component is t. Ids created
// on one device sort in creation order; across devices they stay unique.
func NewAt(t time.Time) (string, error) {
	if t.Before(time.Unix(0, 0)) || t.After(ulid.Time(ulid.MaxTime())) {
		return "", fmt.Errorf("%w: %s", ErrTimeRange, t.UTC().Format(time.RFC3339))
	}

	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s is a well formed id.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time returns the creation time encoded in an id.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
