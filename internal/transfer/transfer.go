// Package transfer implements the incremental file transfer subprotocol
// of §4.4: a chunk-hash diff handshake plus per-version delta archives,
// offered to clients that opt in alongside the plain whole-file
// write_file/read_file transfers of internal/wire.
package transfer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jvcs/jvcs/internal/hashutil"
	"github.com/jvcs/jvcs/internal/jvcserr"
)

// ProtocolVersion is the only version this package understands; a
// mismatch is a fatal protocol error with no fallback (§4.4).
const ProtocolVersion uint64 = 1

// Role selects which handshake the peer runs.
type Role byte

const (
	RoleClientUpdate Role = 1 // CLIENT_UPDATE_MODE
	RoleClientUpload Role = 2 // CLIENT_UPLOAD_MODE
)

// ServerMode is the server's reply mode.
type ServerMode byte

const (
	ServerDeltaMode ServerMode = 1
	ServerFullMode  ServerMode = 2
	NoChangeMode    ServerMode = 3
)

// ChunkPatch is one differing chunk sent by the initiator in step 3 of
// the chunk-hash diff (§4.4).
type ChunkPatch struct {
	Index int
	Bytes []byte
}

// DiffIndices compares the initiator's chunk hashes against the
// receiver's local file and returns the indices the receiver lacks or
// disagrees on, including any trailing indices beyond the receiver's
// own chunk count (step 2 of §4.4's chunk-hash diff).
func DiffIndices(receiverPath string, initiatorHashes []hashutil.Hash) ([]int, error) {
	f, err := os.Open(receiverPath)
	if err != nil {
		if os.IsNotExist(err) {
			indices := make([]int, len(initiatorHashes))
			for i := range indices {
				indices[i] = i
			}
			return indices, nil
		}
		return nil, jvcserr.New(jvcserr.KindIO, "transfer.DiffIndices", err)
	}
	defer f.Close()

	receiverHashes, err := hashutil.ChunkHashes(f)
	if err != nil {
		return nil, err
	}

	var diff []int
	for i, h := range initiatorHashes {
		if i >= len(receiverHashes) || receiverHashes[i] != h {
			diff = append(diff, i)
		}
	}
	return diff, nil
}

// BuildPatches reads exactly the requested chunk indices out of
// localPath, for the initiator's reply in step 3 of §4.4.
func BuildPatches(localPath string, indices []int) ([]ChunkPatch, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "transfer.BuildPatches", err)
	}
	defer f.Close()

	patches := make([]ChunkPatch, 0, len(indices))
	for _, idx := range indices {
		buf := make([]byte, hashutil.ChunkSize)
		n, err := f.ReadAt(buf, int64(idx)*hashutil.ChunkSize)
		if err != nil && err != io.EOF && n == 0 {
			return nil, jvcserr.New(jvcserr.KindIO, "transfer.BuildPatches", err)
		}
		patches = append(patches, ChunkPatch{Index: idx, Bytes: append([]byte(nil), buf[:n]...)})
	}
	return patches, nil
}

// ApplyPatches implements step 4 of §4.4: copy targetPath (if present)
// to a temp file, write each patch at index*ChunkSize, then atomically
// rename over targetPath.
func ApplyPatches(targetPath string, patches []ChunkPatch) error {
	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".transfer-*")
	if err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if existing, err := os.Open(targetPath); err == nil {
		_, copyErr := io.Copy(tmp, existing)
		existing.Close()
		if copyErr != nil {
			tmp.Close()
			return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", copyErr)
		}
	} else if !os.IsNotExist(err) {
		tmp.Close()
		return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", err)
	}

	for _, p := range patches {
		if _, err := tmp.WriteAt(p.Bytes, int64(p.Index)*hashutil.ChunkSize); err != nil {
			tmp.Close()
			return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.ApplyPatches", err)
	}
	return nil
}

// DecideServerMode picks the reply mode for a CLIENT_UPDATE_MODE
// request: NoChangeMode when to==from or the versions coincide,
// otherwise delta/full is a deployment choice left to the caller (the
// distinction only matters for bandwidth, not correctness — this
// package always serves ServerDeltaMode since both paths converge on
// the same chunk-hash diff).
func DecideServerMode(from, to string) ServerMode {
	if from == to {
		return NoChangeMode
	}
	return ServerDeltaMode
}
