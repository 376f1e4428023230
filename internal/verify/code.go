// Package verify derives the verification codes members publish on their game account
// to prove they own it.
package verify

import (
	"encoding/base32"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// CodeLength is the number of characters in a verification code
const CodeLength = 8

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Code returns the verification code for a member claiming an account.
// The same inputs always give the same code; the salt keeps codes unguessable
// for anyone who does not run the bot.
func Code(accountID, salt, memberID string) string {
	h := blake3.New()
	for _, field := range []string{accountID, salt, memberID} {
		// Length prefix so ("ab","c") and ("a","bc") never collide
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}
	sum := h.Sum(nil)

	// 5 bytes encode to exactly 8 base32 characters
	return encoding.EncodeToString(sum[:5])
}

// Matches reports whether a published value is the expected code for the member
func Matches(published, accountID, salt, memberID string) bool {
	if published == "" || accountID == "" {
		return false
	}
	return published == Code(accountID, salt, memberID)
}
