// Package identity manages the long-term client identity (CID/PID)
// referenced throughout the modern protocol: CID is the public
// identity advertised on the wire (rendered in the 24-byte/39-char
// base32 form spec.md's TTH utilities also use); PID is its private
// preimage, never sent except during the identify handshake step.
//
// Persistence follows the same base64-JSON-on-disk shape as the
// teacher's node key store, swapped from an ECDSA keypair used for
// node auth into a CID/PID pair.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/amrav/ncdc/internal/tth"
)

// Identity is the resolved CID/PID pair for this client.
type Identity struct {
	CID [tth.Size]byte // public identity
	PID [tth.Size]byte // private preimage
}

// CIDString renders CID in the wire's base32 form.
func (id Identity) CIDString() string { return tth.Encode(id.CID) }

// PIDString renders PID in the wire's base32 form.
func (id Identity) PIDString() string { return tth.Encode(id.PID) }

type onDiskKeys struct {
	PrivKey string `json:"privkey"`
	PubKey  string `json:"pubkey"`
}

// LoadOrCreate reads an identity from path, generating and persisting
// a fresh ECDSA P-256 keypair if none exists yet. CID is derived from
// the public key's SHA-256 digest truncated to 24 bytes (a stand-in
// for the reference client's own CID derivation, since the exact KDF
// isn't specified); PID is the private scalar's digest, truncated the
// same way, so the two never collide by construction.
func LoadOrCreate(path string) (Identity, error) {
	if id, ok, err := read(path); err != nil {
		return Identity{}, err
	} else if ok {
		return id, nil
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return Identity{}, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return Identity{}, err
	}
	k := onDiskKeys{
		PrivKey: base64.StdEncoding.EncodeToString(privDER),
		PubKey:  base64.StdEncoding.EncodeToString(pubDER),
	}
	if err := write(path, k); err != nil {
		return Identity{}, err
	}
	return deriveFromDER(pubDER, privDER)
}

func read(path string) (Identity, bool, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil || len(data) == 0 {
		return Identity{}, false, nil
	}
	var k onDiskKeys
	if err := json.Unmarshal(data, &k); err != nil {
		return Identity{}, false, nil
	}
	pubDER, err := base64.StdEncoding.DecodeString(k.PubKey)
	if err != nil {
		return Identity{}, false, nil
	}
	privDER, err := base64.StdEncoding.DecodeString(k.PrivKey)
	if err != nil {
		return Identity{}, false, nil
	}
	id, err := deriveFromDER(pubDER, privDER)
	if err != nil {
		return Identity{}, false, nil
	}
	return id, true, nil
}

func write(path string, k onDiskKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "identity-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func deriveFromDER(pubDER, privDER []byte) (Identity, error) {
	pub, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return Identity{}, err
	}
	if _, ok := pub.(*ecdsa.PublicKey); !ok {
		return Identity{}, errors.New("identity: public key is not ECDSA")
	}
	priv, err := x509.ParseECPrivateKey(privDER)
	if err != nil {
		return Identity{}, err
	}
	cidSum := sha256.Sum256(pubDER)
	pidSum := sha256.Sum256(priv.D.Bytes())
	var id Identity
	copy(id.CID[:], cidSum[:tth.Size])
	copy(id.PID[:], pidSum[:tth.Size])
	return id, nil
}
