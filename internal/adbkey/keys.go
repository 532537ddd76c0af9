// Package adbkey generates and persists the RSA key pair presented to adbd.
package adbkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	keyBits         = 2048
	privateFileName = "adbkey"
	publicFileName  = "adbkey.pub"
	modulusWords    = keyBits / 32
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// KeyPair points at the files adb expects (private key in PEM, public key in
// the Android base64 format).
type KeyPair struct {
	PrivatePath string
	PublicPath  string
	Private     *rsa.PrivateKey
}

// Provider stores one key pair per registration id under Dir.
type Provider struct {
	Dir string
}

// Ensure loads the pair for registrationID or generates it on first use.
func (p Provider) Ensure(registrationID string) (*KeyPair, error) {
	if strings.TrimSpace(p.Dir) == "" {
		return nil, errors.New("adbkey: key directory is empty")
	}
	id := unsafeIDChars.ReplaceAllString(strings.TrimSpace(registrationID), "_")
	if id == "" {
		return nil, errors.New("adbkey: registration id is empty")
	}
	dir := filepath.Join(p.Dir, id)
	pair := &KeyPair{
		PrivatePath: filepath.Join(dir, privateFileName),
		PublicPath:  filepath.Join(dir, publicFileName),
	}

	if raw, err := os.ReadFile(pair.PrivatePath); err == nil {
		key, err := decodePrivate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "adbkey: decode %s", pair.PrivatePath)
		}
		pair.Private = key
		if _, err := os.Stat(pair.PublicPath); err != nil {
			if err := writePublic(pair.PublicPath, &key.PublicKey, id); err != nil {
				return nil, err
			}
		}
		return pair, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "adbkey: read private key")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "adbkey: create key dir")
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, errors.Wrap(err, "adbkey: generate key")
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "adbkey: marshal private key")
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(pair.PrivatePath, block, 0o600); err != nil {
		return nil, errors.Wrap(err, "adbkey: write private key")
	}
	if err := writePublic(pair.PublicPath, &key.PublicKey, id); err != nil {
		return nil, err
	}
	pair.Private = key
	log.Info().Str("registration", id).Str("path", pair.PrivatePath).Msg("generated adb key pair")
	return pair, nil
}

// EnsureOrNil is Ensure for callers that fall back to keyless connections.
func (p Provider) EnsureOrNil(registrationID string) *KeyPair {
	pair, err := p.Ensure(registrationID)
	if err != nil {
		log.Warn().Err(err).Str("registration", registrationID).Msg("adb key material unavailable, connecting without keys")
		return nil
	}
	return pair
}

func decodePrivate(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return key, nil
}

func writePublic(path string, pub *rsa.PublicKey, comment string) error {
	encoded, err := EncodePublicKey(pub)
	if err != nil {
		return err
	}
	line := encoded + " " + comment + "@tvboxagent\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return errors.Wrap(err, "adbkey: write public key")
	}
	return nil
}

// EncodePublicKey renders pub in the layout adbd stores in adb_keys:
// word count, n0inv, modulus and R^2 mod n (little endian words), exponent.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	if pub == nil || pub.N.BitLen() != keyBits {
		return "", errors.Errorf("adbkey: need a %d-bit RSA key", keyBits)
	}
	buf := make([]byte, 0, 4+4+modulusWords*4*2+4)
	buf = binary.LittleEndian.AppendUint32(buf, modulusWords)

	r32 := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(pub.N, r32)
	n0inv := new(big.Int).ModInverse(n0, r32)
	if n0inv == nil {
		return "", errors.New("adbkey: modulus is not invertible")
	}
	n0inv.Sub(r32, n0inv)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n0inv.Uint64()))

	buf = appendWordsLE(buf, pub.N)
	rr := new(big.Int).Lsh(big.NewInt(1), keyBits*2)
	rr.Mod(rr, pub.N)
	buf = appendWordsLE(buf, rr)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(pub.E))
	return base64.StdEncoding.EncodeToString(buf), nil
}

func appendWordsLE(buf []byte, v *big.Int) []byte {
	be := v.FillBytes(make([]byte, modulusWords*4))
	for i := len(be) - 1; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return buf
}
