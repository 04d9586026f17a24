package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferencePrefix starts every generated transaction reference.
const ReferencePrefix = "EZS"

// GenerateReference returns an id such as EZS-20260102-150405-123-1a2b3c4d.
// Only letters, digits and hyphens are used since several providers reject
// anything else in a merchant reference.
func GenerateReference(now time.Time) string {
	now = now.UTC()
	millis := now.Nanosecond() / int(time.Millisecond)
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	return fmt.Sprintf("%s-%s-%03d-%s", ReferencePrefix, now.Format("20060102-150405"), millis, random)
}
