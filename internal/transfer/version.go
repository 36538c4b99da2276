package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jvcs/jvcs/internal/hashutil"
	"github.com/jvcs/jvcs/internal/jvcserr"
)

// VersionFileSuffix names the sidecar decimal-integer version file
// that travels alongside every incrementally-transferred file (§4.4).
const VersionFileSuffix = ".ver"

// VersionFilePath returns the sidecar path for filePath.
func VersionFilePath(filePath string) string {
	return filePath + VersionFileSuffix
}

// ReadVersion reads filePath's sidecar version, defaulting to 0 if the
// sidecar is absent (a file never transferred incrementally before).
func ReadVersion(filePath string) (int, error) {
	data, err := os.ReadFile(VersionFilePath(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, jvcserr.New(jvcserr.KindIO, "transfer.ReadVersion", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, jvcserr.New(jvcserr.KindSerialization, "transfer.ReadVersion", err)
	}
	return v, nil
}

// WriteVersion persists filePath's sidecar version after a successful
// apply (§4.4: "client writes its version file with the new number").
func WriteVersion(filePath string, version int) error {
	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, ".ver-*")
	if err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteVersion", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(version)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteVersion", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteVersion", err)
	}
	if err := os.Rename(tmpPath, VersionFilePath(filePath)); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteVersion", err)
	}
	return nil
}

// DeltaDir is the per-directory delta archive directory name (§4.4).
const DeltaDir = "diff"

// deltaChunk is one (chunk_index, chunk_size, chunk_bytes) record of a
// delta archive (§4.4's reconstruction format).
type deltaChunk struct {
	Index int
	Bytes []byte
}

// DeltaPath returns the archive path for one from→to delta of basename
// under dir, i.e. dir/diff/{basename}_{from}_{to}.delta.
func DeltaPath(dir, basename string, from, to int) string {
	return filepath.Join(dir, DeltaDir, fmt.Sprintf("%s_%d_%d.delta", basename, from, to))
}

// WriteDelta persists the chunk patches that take basename from
// version `from` to version `to`.
func WriteDelta(dir, basename string, from, to int, patches []ChunkPatch) error {
	if err := os.MkdirAll(filepath.Join(dir, DeltaDir), 0o755); err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteDelta", err)
	}
	path := DeltaPath(dir, basename, from, to)
	tmp, err := os.CreateTemp(filepath.Join(dir, DeltaDir), ".delta-*")
	if err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteDelta", err)
	}
	tmpPath := tmp.Name()
	for _, p := range patches {
		if err := writeDeltaChunk(tmp, deltaChunk{Index: p.Index, Bytes: p.Bytes}); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteDelta", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return jvcserr.New(jvcserr.KindIO, "transfer.WriteDelta", err)
	}
	return nil
}

// ReconstructVersion implements send_delta_to_version's reconstruction
// step (§4.4): starting from an empty base, iteratively apply deltas
// 0→1, 1→2, ... up to version k, returning the rebuilt file content.
func ReconstructVersion(dir, basename string, k int) ([]byte, error) {
	var buf []byte
	for v := 0; v < k; v++ {
		patches, err := readDelta(DeltaPath(dir, basename, v, v+1))
		if err != nil {
			return nil, err
		}
		buf = applyChunksToBuffer(buf, patches)
	}
	return buf, nil
}

func applyChunksToBuffer(buf []byte, patches []deltaChunk) []byte {
	for _, p := range patches {
		offset := p.Index * hashutil.ChunkSize
		need := offset + len(p.Bytes)
		if need > len(buf) {
			grown := make([]byte, need)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[offset:need], p.Bytes)
	}
	return buf
}

func readDelta(path string) ([]deltaChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "transfer.readDelta", err)
	}
	var chunks []deltaChunk
	for off := 0; off < len(data); {
		if off+8 > len(data) {
			return nil, jvcserr.New(jvcserr.KindSerialization, "transfer.readDelta", fmt.Errorf("truncated delta header"))
		}
		index := int(be32(data[off : off+4]))
		size := int(be32(data[off+4 : off+8]))
		off += 8
		if off+size > len(data) {
			return nil, jvcserr.New(jvcserr.KindSerialization, "transfer.readDelta", fmt.Errorf("truncated delta body"))
		}
		chunks = append(chunks, deltaChunk{Index: index, Bytes: append([]byte(nil), data[off:off+size]...)})
		off += size
	}
	return chunks, nil
}

func writeDeltaChunk(w interface{ Write([]byte) (int, error) }, c deltaChunk) error {
	header := make([]byte, 8)
	putBE32(header[0:4], uint32(c.Index))
	putBE32(header[4:8], uint32(len(c.Bytes)))
	if _, err := w.Write(header); err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.writeDeltaChunk", err)
	}
	if _, err := w.Write(c.Bytes); err != nil {
		return jvcserr.New(jvcserr.KindIO, "transfer.writeDeltaChunk", err)
	}
	return nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
