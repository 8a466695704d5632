package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewPushID returns an ID whose lexical order follows creation time, so
// children listed by key come back oldest first.
func NewPushID(now time.Time) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%013d%s", now.UTC().UnixMilli(), hex.EncodeToString(b))
}
