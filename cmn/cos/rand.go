// Package cos provides common low-level types and utilities for the bundle daemon
package cos

import (
	"crypto/rand"
	"unsafe"
)

// MLCG32 is the multiplier for a 32-bit multiplicative LCG, used to seed
// xxhash when a fixed, non-zero seed is preferable to 0.
const MLCG32 = 1103515245

const (
	LetterRunes   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	LenRunes      = len(LetterRunes)
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
)

// CryptoRandS returns a cryptographically random alpha-numeric string of length n.
func CryptoRandS(n int) string {
	b := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable.
		panic(err)
	}
	for i, c := range buf {
		b[i] = LetterRunes[int(c)%LenRunes]
	}
	return UnsafeS(b)
}

// UnsafeS converts a []byte to a string without copying the underlying array.
// The caller must not mutate b after the conversion.
func UnsafeS(b []byte) string { return *(*string)(unsafe.Pointer(&b)) }

// UnsafeB converts a string to a []byte without copying the underlying array.
// The caller must not mutate the returned slice.
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
