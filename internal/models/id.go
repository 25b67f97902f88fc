package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// ProductID derives a stable document identifier from a product URL.
// Firestore documents, feed catalog entries, and price update events all
// key products with this value.
func ProductID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:12])
}
