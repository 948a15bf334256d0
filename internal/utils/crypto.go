package utils

import (
    "crypto/sha256"
    "encoding/hex"
)

func SHA256Hex(s string) string {
    return SHA256HexBytes([]byte(s))
}

// SHA256HexBytes is the checksum recorded for uploaded captures.
func SHA256HexBytes(b []byte) string {
    h := sha256.Sum256(b)
    return hex.EncodeToString(h[:])
}
