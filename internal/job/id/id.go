// Package id generates render job identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Prefix starts every generated ID.
const Prefix = "render-"

// Generate creates a new unique job ID of the form
// render-<unix seconds>-<8 hex chars>, e.g. render-1773479107-a1b2c3d4.
func Generate() string {
	return generate(time.Now())
}

func generate(now time.Time) string {
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return fmt.Sprintf("%s%d-%d", Prefix, now.Unix(), now.Nanosecond())
	}
	return fmt.Sprintf("%s%d-%s", Prefix, now.Unix(), hex.EncodeToString(random))
}
