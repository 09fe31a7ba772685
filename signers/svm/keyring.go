package svm

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// SolanaPathTemplate is the derivation path used by Phantom and Solflare
const SolanaPathTemplate = "m/44'/501'/%d'/0'"

const hardenedOffset uint32 = 0x80000000

var ed25519Curve = []byte("ed25519 seed")

// Keyring derives Solana signing keys from a BIP-39 seed phrase following
// SLIP-10 over ed25519. Every derived key is independent of the others; the
// keyring itself only keeps the seed.
type Keyring struct {
	seed []byte
}

// NewHDKeyring validates mnemonic and expands it (with optional passphrase)
// into a seed.
func NewHDKeyring(mnemonic, passphrase string) (*Keyring, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return &Keyring{seed: seed}, nil
}

// NewKeyringFromSeed builds a keyring from a raw seed
func NewKeyringFromSeed(seed []byte) (*Keyring, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, fmt.Errorf("seed must be between 16 and 64 bytes, got %d", len(seed))
	}
	return &Keyring{seed: append([]byte(nil), seed...)}, nil
}

// NewMnemonic generates a fresh 24-word seed phrase
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// Derive returns the key at m/44'/501'/index'/0'
func (k *Keyring) Derive(index uint32) (solana.PrivateKey, error) {
	return k.DerivePath(fmt.Sprintf(SolanaPathTemplate, index))
}

// Address returns the public key at m/44'/501'/index'/0'
func (k *Keyring) Address(index uint32) (solana.PublicKey, error) {
	key, err := k.Derive(index)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

// DerivePath derives the key at an arbitrary all-hardened path
func (k *Keyring) DerivePath(path string) (solana.PrivateKey, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key, chainCode := masterKey(k.seed)
	for _, segment := range segments {
		key, chainCode = childKey(key, chainCode, segment)
	}
	return solana.PrivateKey(ed25519.NewKeyFromSeed(key)), nil
}

func masterKey(seed []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, ed25519Curve)
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

func childKey(key, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 1+32+4)
	copy(data[1:33], key)
	binary.BigEndian.PutUint32(data[33:], index)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// parsePath turns m/a'/b'/... into hardened indices. ed25519 has no public
// derivation, so unhardened segments are rejected.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("derivation path must start with m: %q", path)
	}

	segments := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if !strings.HasSuffix(part, "'") && !strings.HasSuffix(part, "H") {
			return nil, fmt.Errorf("derivation path segment %q must be hardened", part)
		}
		n, err := strconv.ParseUint(part[:len(part)-1], 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path segment %q: %w", part, err)
		}
		segments = append(segments, uint32(n)+hardenedOffset)
	}
	return segments, nil
}
