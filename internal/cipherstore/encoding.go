package cipherstore

import (
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"
)

func encodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// deriveKey derives the 32-byte AEAD key from the process master secret via
// HKDF-SHA256, domain-separated by the "aegix:cipherstore:v1" info label.
func deriveKey(masterSecret []byte) []byte {
	h := hkdf.New(sha256.New, masterSecret, nil, []byte("aegix:cipherstore:v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		panic("cipherstore: hkdf expand failed: " + err.Error())
	}
	return key
}
