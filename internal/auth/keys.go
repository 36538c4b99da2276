// Package auth implements the challenge-response authentication
// protocol of §4.3: a challenger holds the peer's public key, a
// responder signs with its private key, algorithm auto-detected from
// the PEM block tag.
package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/jvcs/jvcs/internal/jvcserr"
)

// Algorithm names the four signature schemes §4.3 enumerates.
type Algorithm int

const (
	AlgUnknown Algorithm = iota
	AlgRSAPKCS1SHA256
	AlgEd25519
	AlgECDSAP256SHA256
	AlgECDSAP384SHA384
)

// Signer bundles a private key with the algorithm it must sign with.
type Signer struct {
	Algorithm Algorithm
	rsaKey    *rsa.PrivateKey
	edKey     ed25519.PrivateKey
	ecKey     *ecdsa.PrivateKey
}

// LoadPrivateKey reads and parses a PEM-encoded private key, detecting
// its algorithm (and, for ECDSA, its curve) from the key material
// itself, the way §4.3 point 2 requires.
func LoadPrivateKey(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, jvcserr.New(jvcserr.KindIO, "auth.LoadPrivateKey", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", fmt.Errorf("no PEM block in %s", path))
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", err)
		}
		return &Signer{Algorithm: AlgRSAPKCS1SHA256, rsaKey: key}, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", err)
		}
		return signerFromECDSA(key)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return &Signer{Algorithm: AlgRSAPKCS1SHA256, rsaKey: k}, nil
		case ed25519.PrivateKey:
			return &Signer{Algorithm: AlgEd25519, edKey: k}, nil
		case *ecdsa.PrivateKey:
			return signerFromECDSA(k)
		default:
			return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", fmt.Errorf("unsupported PKCS8 key type %T", key))
		}
	default:
		return nil, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPrivateKey", fmt.Errorf("unsupported PEM block type %q", block.Type))
	}
}

func signerFromECDSA(key *ecdsa.PrivateKey) (*Signer, error) {
	switch key.Curve.Params().BitSize {
	case 256:
		return &Signer{Algorithm: AlgECDSAP256SHA256, ecKey: key}, nil
	case 384:
		return &Signer{Algorithm: AlgECDSAP384SHA384, ecKey: key}, nil
	default:
		return nil, jvcserr.New(jvcserr.KindCrypto, "auth.signerFromECDSA", fmt.Errorf("unsupported ECDSA curve bit size %d", key.Curve.Params().BitSize))
	}
}

// Sign signs nonce with the algorithm detected at load time.
func (s *Signer) Sign(nonce []byte) ([]byte, error) {
	switch s.Algorithm {
	case AlgRSAPKCS1SHA256:
		digest := sha256.Sum256(nonce)
		return rsa.SignPKCS1v15(rand.Reader, s.rsaKey, crypto.SHA256, digest[:])
	case AlgEd25519:
		return ed25519.Sign(s.edKey, nonce), nil
	case AlgECDSAP256SHA256:
		digest := sha256.Sum256(nonce)
		return ecdsa.SignASN1(rand.Reader, s.ecKey, digest[:])
	case AlgECDSAP384SHA384:
		digest := sha512.Sum384(nonce)
		return ecdsa.SignASN1(rand.Reader, s.ecKey, digest[:])
	default:
		return nil, jvcserr.New(jvcserr.KindCrypto, "auth.Sign", fmt.Errorf("unknown signer algorithm"))
	}
}

// LoadPublicKey reads and parses a PEM-encoded public key from path
// (vault/key/{id}.pem), auto-detecting its algorithm from the key
// material. A missing file is reported via the returned error's Kind
// (KindIO) so callers can distinguish it from a malformed key
// (KindCrypto) — §4.3 requires the former to yield verified=false, not
// a connection-terminating error.
func LoadPublicKey(path string) (crypto.PublicKey, Algorithm, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, AlgUnknown, jvcserr.New(jvcserr.KindIO, "auth.LoadPublicKey", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", fmt.Errorf("no PEM block in %s", path))
	}

	var pub crypto.PublicKey
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", err)
		}
		return key, AlgRSAPKCS1SHA256, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", err)
		}
		pub = key
	default:
		return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", fmt.Errorf("unsupported PEM block type %q", block.Type))
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k, AlgRSAPKCS1SHA256, nil
	case ed25519.PublicKey:
		return k, AlgEd25519, nil
	case *ecdsa.PublicKey:
		switch k.Curve.Params().BitSize {
		case 256:
			return k, AlgECDSAP256SHA256, nil
		case 384:
			return k, AlgECDSAP384SHA384, nil
		default:
			return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", fmt.Errorf("unsupported ECDSA curve bit size %d", k.Curve.Params().BitSize))
		}
	default:
		return nil, AlgUnknown, jvcserr.New(jvcserr.KindCrypto, "auth.LoadPublicKey", fmt.Errorf("unsupported public key type %T", pub))
	}
}

// Verify checks sig against nonce for pub/alg as produced by Sign.
func Verify(pub crypto.PublicKey, alg Algorithm, nonce, sig []byte) bool {
	switch alg {
	case AlgRSAPKCS1SHA256:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha256.Sum256(nonce)
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	case AlgEd25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(key, nonce, sig)
	case AlgECDSAP256SHA256:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha256.Sum256(nonce)
		return ecdsa.VerifyASN1(key, digest[:], sig)
	case AlgECDSAP384SHA384:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false
		}
		digest := sha512.Sum384(nonce)
		return ecdsa.VerifyASN1(key, digest[:], sig)
	default:
		return false
	}
}
