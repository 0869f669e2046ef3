package ingest

import "crypto/sha256"

// ComputeEventID computes the SHA256 hash of the BMP message bytes.
// The hash is computed on the raw BMP bytes, NOT the OpenBMP wrapper, so
// the same message relayed by two collectors dedups to one row.
func ComputeEventID(bmpBytes []byte) []byte {
	h := sha256.Sum256(bmpBytes)
	return h[:]
}
