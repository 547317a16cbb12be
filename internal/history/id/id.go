// Package id provides unique identifier generation for merge records.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Prefix starts every generated ID.
const Prefix = "merge-"

// Generate creates a new unique merge ID.
// Format: merge-<unix seconds>-<first 8 hex digits of a random UUID>
// Example: merge-1701432000-a1b2c3d4
func Generate() string {
	return fmt.Sprintf("%s%d-%s", Prefix, time.Now().Unix(), uuid.NewString()[:8])
}
