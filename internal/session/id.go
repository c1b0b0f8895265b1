package session

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102-150405"

// NewID returns a sortable exchange ID: YYYYMMDD-HHMMSS-xxxxxx.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%s-%s", now.UTC().Format(idTimeLayout), hex.EncodeToString(u[:3]))
}

// ParseIDTime extracts the UTC timestamp of an ID, or the zero time.
func ParseIDTime(id string) time.Time {
	if len(id) < len(idTimeLayout) {
		return time.Time{}
	}
	t, err := time.Parse(idTimeLayout, id[:len(idTimeLayout)])
	if err != nil {
		return time.Time{}
	}
	return t
}

// ShortID trims an ID for table output: "20240115-143052-a1b2c3" -> "240115-1430".
func ShortID(id string) string {
	if len(id) < len(idTimeLayout) {
		return id
	}
	return id[2:8] + "-" + id[9:13]
}
