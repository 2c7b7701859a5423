// Package ids generates identifiers for job records and generated filenames.
package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewJob returns a lexicographically sortable identifier used as the primary
// key of background-job records.
func NewJob() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// PhotoFilename builds a unique name for a captured photo, matching the
// photo_<timestamp>_<suffix>.jpg layout clients already expect.
func PhotoFilename(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "photo_" + now.Format("20060102_150405") + "_" + suffix + ".jpg"
}
