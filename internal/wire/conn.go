// Package wire implements the length-prefixed binary framing described
// in §4.2: primitive msgpack frames, chunked large-message frames, and
// whole-file transfers, all big-endian.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultFrameDeadline bounds every individual frame read/write so a
// half-dead connection cannot hang a server task forever (§5).
const DefaultFrameDeadline = 30 * time.Second

// Conn wraps a net.Conn with the typed framing operations every action
// body uses to exchange messages (§4.2). It is not safe for concurrent
// use by more than one goroutine at a time — callers serialize a
// single send-recv pair per turn, matching the §5 ConnectionInstance
// mutex discipline.
type Conn struct {
	nc       net.Conn
	Deadline time.Duration
}

// New wraps nc with the default per-frame deadline.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc, Deadline: DefaultFrameDeadline}
}

// Raw exposes the underlying net.Conn for callers that need to tune
// socket options or close the connection directly.
func (c *Conn) Raw() net.Conn { return c.nc }

func (c *Conn) deadline() time.Time {
	if c.Deadline <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.Deadline)
}

func (c *Conn) readFull(buf []byte) error {
	if err := c.nc.SetReadDeadline(c.deadline()); err != nil {
		return err
	}
	_, err := io.ReadFull(c.nc, buf)
	return err
}

func (c *Conn) writeFull(buf []byte) error {
	if err := c.nc.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	_, err := c.nc.Write(buf)
	return err
}

// WriteUint32 sends a single big-endian u32 — used by mode/count
// prefixes throughout the incremental-transfer subprotocol.
func (c *Conn) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.writeFull(buf[:])
}

// ReadUint32 reads a single big-endian u32.
func (c *Conn) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint64 sends a single big-endian u64 — file lengths and the
// incremental-transfer protocol version use this width.
func (c *Conn) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return c.writeFull(buf[:])
}

// ReadUint64 reads a single big-endian u64.
func (c *Conn) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteByte sends a single byte — mode bytes and the one-byte
// challenge success indicator.
func (c *Conn) WriteByte(b byte) error {
	return c.writeFull([]byte{b})
}

// ReadByte reads a single byte.
func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteBytes sends a [u32 len][bytes] frame — used for raw byte
// payloads like challenge nonces, signatures, and key ids.
func (c *Conn) WriteBytes(b []byte) error {
	if err := c.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return c.writeFull(b)
}

// ReadBytes reads a [u32 len][bytes] frame.
func (c *Conn) ReadBytes() ([]byte, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if err := c.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write msgpack-encodes v and sends it as a [u32 len][msgpack bytes]
// frame — the primitive operation named in §4.2.
func Write[T any](c *Conn, v T) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	return c.WriteBytes(b)
}

// Read reads a primitive msgpack frame and decodes it into T.
func Read[T any](c *Conn) (T, error) {
	var zero T
	b, err := c.ReadBytes()
	if err != nil {
		return zero, err
	}
	var v T
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return zero, fmt.Errorf("wire: unmarshal: %w", err)
	}
	return v, nil
}

// WriteLargeMsgpack streams a msgpack-encoded value whose size may
// exceed a single frame: [u32 total_len][chunk...], each chunk itself
// [u32 chunk_len][bytes], chunked at chunkKiB*1024 bytes.
func WriteLargeMsgpack[T any](c *Conn, v T, chunkKiB int) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if err := c.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	chunkSize := chunkKiB * 1024
	if chunkSize <= 0 {
		chunkSize = len(b)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	for off := 0; off < len(b); off += chunkSize {
		end := off + chunkSize
		if end > len(b) {
			end = len(b)
		}
		if err := c.WriteBytes(b[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadLargeMsgpack reads a value written by WriteLargeMsgpack.
func ReadLargeMsgpack[T any](c *Conn, chunkKiB int) (T, error) {
	var zero T
	total, err := c.ReadUint32()
	if err != nil {
		return zero, err
	}
	buf := make([]byte, 0, total)
	for uint32(len(buf)) < total {
		chunk, err := c.ReadBytes()
		if err != nil {
			return zero, err
		}
		buf = append(buf, chunk...)
	}
	var v T
	if err := msgpack.Unmarshal(buf, &v); err != nil {
		return zero, fmt.Errorf("wire: unmarshal: %w", err)
	}
	return v, nil
}

// WriteFile sends the length of path's contents followed by the
// contents themselves: [u64 length][bytes] (§4.2, §6).
func (c *Conn) WriteFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := c.WriteUint64(uint64(info.Size())); err != nil {
		return err
	}
	if err := c.nc.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	_, err = io.Copy(c.nc, f)
	return err
}

// ReadFile receives a file body written by WriteFile and atomically
// installs it at path: write to a temp sibling, then os.Rename, the
// same write-then-rename discipline the teacher's writeBlob uses for
// archive files.
func (c *Conn) ReadFile(path string) error {
	length, err := c.ReadUint64()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".part-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := c.nc.SetReadDeadline(c.deadline()); err != nil {
		tmp.Close()
		return err
	}
	if _, err := io.CopyN(tmp, c.nc, int64(length)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
