package utils

import (
	"crypto/sha256"
	"fmt"
)

// ComputeHash returns the hex sha256 of data. Attempts record it so an
// operator can tell whether an article changed between retries.
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
