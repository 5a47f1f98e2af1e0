package keyvault

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
)

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func encodeAddr(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
