// Package hashutil provides the content-hashing and chunk-hashing
// primitives used for virtual-file identity and the incremental
// transfer protocol (§4.1).
package hashutil

import (
	"encoding/hex"
	"io"

	"lukechampine.com/blake3"
)

// Size is the width, in bytes, of a content hash. blake3-class, 32B.
const Size = 32

// ChunkSize is the fixed chunk width used by both the chunk-hash diff
// protocol (§4.4) and the chunked whole-file hash (§4.1). The last
// chunk of a file may be shorter.
const ChunkSize = 8192

// Hash is a 32-byte content hash.
type Hash [Size]byte

// String renders the hash as lowercase hex, the form used in logs and
// in vf_<uuid> adjacent debug output.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (never a valid content
// hash — blake3 of the empty input is itself a real value, so zero is
// only ever produced by an uninitialized Hash).
func (h Hash) IsZero() bool { return h == Hash{} }

// Sum computes the whole-content hash of r.
func Sum(r io.Reader) (Hash, error) {
	h := blake3.New(Size, nil)
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SumBytes computes the whole-content hash of b.
func SumBytes(b []byte) Hash {
	h := blake3.New(Size, nil)
	_, _ = h.Write(b)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ChunkHashes returns the ordered per-chunk hashes of r, chunked at
// ChunkSize bytes (the last chunk may be short). Used by the
// incremental-transfer chunk-diff handshake. The analyzer's
// modified-file detection does not use it; it compares PathFingerprint
// values of file content instead.
func ChunkHashes(r io.Reader) ([]Hash, error) {
	var out []Hash
	buf := make([]byte, ChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			out = append(out, SumBytes(buf[:n]))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Hasher is an incremental, streaming hasher used by callers (e.g. the
// incremental-transfer initiator) that want to feed bytes as they
// arrive rather than hold a whole file in memory.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a fresh streaming whole-content hasher.
func NewHasher() *Hasher { return &Hasher{h: blake3.New(Size, nil)} }

func (hs *Hasher) Write(p []byte) (int, error) { return hs.h.Write(p) }

func (hs *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], hs.h.Sum(nil))
	return out
}

// PathFingerprint is a whole-string SHA-1 used for display grouping and
// move-candidate matching (§4.1). It is also applied to file content by
// the analyzer's modified pass and by the track client when it records
// hash_when_updated. It is never used for blob identity — callers
// reaching for content identity must use Sum or ChunkHashes instead.
func PathFingerprint(s string) string {
	return pathFingerprint(s)
}
