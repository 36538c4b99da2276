package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jvcs/jvcs/internal/jvcserr"
	"github.com/jvcs/jvcs/internal/wire"
)

// NonceSize is the width of the random challenge (§4.3 point 1).
const NonceSize = 32

// HostID is the distinguished pseudo-id reserved for the vault
// operator (§3, §4.3).
const HostID = "host"

// Result is the outcome the challenger reports back to the caller —
// an authentication rejection is a normal result, not an error (§7).
type Result struct {
	Verified bool
	KeyID    string
}

// Challenge runs the challenger side of §4.3: generate a nonce, read
// back the responder's signature and claimed key id, verify it
// against vault/key/{key_id}.pem, and report the outcome.
//
// keyDir is the vault's "key" directory (vault/key/).
func Challenge(c *wire.Conn, keyDir string) (Result, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Result{}, jvcserr.New(jvcserr.KindCrypto, "auth.Challenge", err)
	}
	if err := c.WriteBytes(nonce); err != nil {
		return Result{}, jvcserr.New(jvcserr.KindIO, "auth.Challenge", err)
	}

	sig, err := c.ReadBytes()
	if err != nil {
		return Result{}, jvcserr.New(jvcserr.KindIO, "auth.Challenge", err)
	}
	keyIDBytes, err := c.ReadBytes()
	if err != nil {
		return Result{}, jvcserr.New(jvcserr.KindIO, "auth.Challenge", err)
	}
	keyID := string(keyIDBytes)

	verified := verifyAgainstKeyFile(keyDir, keyID, nonce, sig)

	var indicator byte
	if verified {
		indicator = 1
	}
	if err := c.WriteByte(indicator); err != nil {
		return Result{}, jvcserr.New(jvcserr.KindIO, "auth.Challenge", err)
	}
	return Result{Verified: verified, KeyID: keyID}, nil
}

// verifyAgainstKeyFile implements §4.3's "missing key file => false,
// not error; malformed signature => false; I/O => error" rule. A
// load failure of kind KindIO (missing file) or KindCrypto (malformed
// key) both degrade to verified=false here, since from the
// challenger's point of view a peer that cannot be verified is
// indistinguishable from one who is lying — only a failure on our own
// socket is fatal, and that is surfaced by Challenge's own I/O calls,
// not from here.
func verifyAgainstKeyFile(keyDir, keyID string, nonce, sig []byte) bool {
	if keyID == "" {
		return false
	}
	pub, alg, err := LoadPublicKey(filepath.Join(keyDir, keyID+".pem"))
	if err != nil {
		return false
	}
	return Verify(pub, alg, nonce, sig)
}

// AcceptChallenge runs the responder side of §4.3: read the nonce,
// sign it with the private key at privateKeyPath, send back the
// signature and our own id, and read the one-byte success indicator.
func AcceptChallenge(c *wire.Conn, memberID, privateKeyPath string) (bool, error) {
	nonce, err := c.ReadBytes()
	if err != nil {
		return false, jvcserr.New(jvcserr.KindIO, "auth.AcceptChallenge", err)
	}
	if len(nonce) != NonceSize {
		return false, jvcserr.New(jvcserr.KindProtocol, "auth.AcceptChallenge", fmt.Errorf("unexpected nonce size %d", len(nonce)))
	}

	signer, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return false, err
	}
	sig, err := signer.Sign(nonce)
	if err != nil {
		return false, jvcserr.New(jvcserr.KindCrypto, "auth.AcceptChallenge", err)
	}

	if err := c.WriteBytes(sig); err != nil {
		return false, jvcserr.New(jvcserr.KindIO, "auth.AcceptChallenge", err)
	}
	if err := c.WriteBytes([]byte(memberID)); err != nil {
		return false, jvcserr.New(jvcserr.KindIO, "auth.AcceptChallenge", err)
	}

	indicator, err := c.ReadByte()
	if err != nil {
		return false, jvcserr.New(jvcserr.KindIO, "auth.AcceptChallenge", err)
	}
	return indicator == 1, nil
}

// IsHostMode reports whether memberID may act as the distinguished
// "host" pseudo-id. §4.3: "permitted only when the local workspace is
// configured for host operation."
func IsHostMode(memberID string, workspaceHostMode bool) bool {
	return memberID == HostID && workspaceHostMode
}

// ErrNotHostMode is returned by callers that gate privileged
// operations behind IsHostMode and want a typed rejection.
var ErrNotHostMode = errors.New("host operations require host mode")
