// Package idgen generates the prefixed random identifiers used across the
// marketplace.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Entity ID prefixes. An ID is its prefix followed by 24 hex characters.
const (
	Listing = "lst_"
	Order   = "ord_"
	Payment = "pay_"
	User    = "usr_"
)

// WithPrefix generates a random ID: prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
