// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// serialCharset omits 0/O and 1/I so keys survive being read aloud.
const serialCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	return randomFromCharset(charset, length)
}

// GenerateSerialKey returns a key of the form XXXX-XXXX-XXXX-XXXX.
func GenerateSerialKey() (string, error) {
	groups := make([]string, 4)
	for i := range groups {
		group, err := randomFromCharset(serialCharset, 4)
		if err != nil {
			return "", err
		}
		groups[i] = group
	}
	return strings.Join(groups, "-"), nil
}

func randomFromCharset(charset string, length int) (string, error) {
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// DeviceFingerprint records which (key, device) pair was bound. It is not a
// secret and is never used for access control.
func DeviceFingerprint(serialKey, deviceID string) string {
	return HashString(serialKey + deviceID)
}
