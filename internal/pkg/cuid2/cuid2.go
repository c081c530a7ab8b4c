package cuid2

import (
	crypto_rand "crypto/rand"
	"strings"
	"time"
)

// Base62 alphabet: 0-9, A-Z, a-z (62 characters)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// EncodeTimestampBase62 encodes a Unix timestamp (seconds) as a 6-character
// base62 string. Produces lexicographically sortable output for timestamps.
func EncodeTimestampBase62(timestampSeconds int64) string {
	n := timestampSeconds
	result := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		remainder := n % 62
		result[i] = base62Alphabet[remainder]
		n = n / 62
	}
	return string(result)
}

// generateCuidLikeID generates a CUID-like random string using base62
// encoding with rejection sampling over crypto/rand bytes.
//
//   - Extracts 6 bits at a time (values 0-63)
//   - Rejects values >= 62 to maintain uniform distribution
//   - ~5.95 bits of entropy per character (log2(62))
func generateCuidLikeID(length int) string {
	// Request extra bytes to account for rejection sampling (~3% rejection rate)
	bytesNeeded := (length*6)/8 + 4
	bytes := make([]byte, bytesNeeded)
	if _, err := crypto_rand.Read(bytes); err != nil {
		panic("failed to read random bytes: " + err.Error())
	}

	var result strings.Builder
	bitBuffer := uint64(0)
	bitsInBuffer := uint(0)
	byteIndex := 0

	for result.Len() < length {
		for bitsInBuffer < 6 && byteIndex < len(bytes) {
			bitBuffer = (bitBuffer << 8) | uint64(bytes[byteIndex])
			bitsInBuffer += 8
			byteIndex++
		}

		value := (bitBuffer >> (bitsInBuffer - 6)) & 0x3f
		bitsInBuffer -= 6

		// Rejection sampling: only accept values < 62 for uniform distribution
		if value < 62 {
			result.WriteByte(base62Alphabet[value])
		}

		// If we run out of bytes (unlikely), get more
		if byteIndex >= len(bytes) && result.Len() < length {
			if _, err := crypto_rand.Read(bytes); err != nil {
				panic("failed to read random bytes: " + err.Error())
			}
			byteIndex = 0
			bitBuffer = 0
			bitsInBuffer = 0
		}
	}

	return result.String()
}

// GeneratePrefixedID generates a prefixed ID with a 6-char base62 timestamp
// prefix for B-tree index locality followed by 18 random characters.
//
// Example: GeneratePrefixedID("job") -> "job_1rK5iqaB3cD5eF7gH9iJ1k"
//
// Job and node IDs share this format so a row's creation time is recoverable
// from the ID alone.
func GeneratePrefixedID(prefix string) string {
	timestamp := EncodeTimestampBase62(time.Now().Unix())
	return prefix + "_" + timestamp + generateCuidLikeID(18)
}
