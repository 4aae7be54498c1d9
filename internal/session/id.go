package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID generates a time-sortable session id. The millisecond timestamp
// prefix keeps lexicographic order equal to chronological order; the random
// suffix disambiguates sessions created in the same millisecond.
func NewID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("sess_%013d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
