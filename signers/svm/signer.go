package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	mechsvm "github.com/pai-labs/spltransfer/mechanisms/svm"
)

// KeySource hands out signing keys by account index
type KeySource interface {
	Derive(index uint32) (solana.PrivateKey, error)
}

// Signer holds one Solana keypair
type Signer struct {
	privateKey solana.PrivateKey
}

// NewSigner wraps an already parsed private key
func NewSigner(privateKey solana.PrivateKey) (*Signer, error) {
	if len(privateKey) != 64 {
		return nil, fmt.Errorf("private key must be 64 bytes, got %d", len(privateKey))
	}
	return &Signer{privateKey: privateKey}, nil
}

// NewSignerFromPrivateKey creates a signer from a base58-encoded private key.
//
// Example:
//
//	signer, err := svm.NewSignerFromPrivateKey("5J7W...")
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewSignerFromPrivateKey(privateKeyBase58 string) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(privateKey)
}

// NewSignerFromKeyring creates a signer for account index of keyring
func NewSignerFromKeyring(keyring *Keyring, index uint32) (*Signer, error) {
	privateKey, err := keyring.Derive(index)
	if err != nil {
		return nil, err
	}
	return NewSigner(privateKey)
}

// Address returns the Solana public key of the signer.
func (s *Signer) Address() solana.PublicKey {
	return s.privateKey.PublicKey()
}

// PrivateKey returns the key for use in a TransferRequest
func (s *Signer) PrivateKey() solana.PrivateKey {
	return s.privateKey
}

// Derive implements KeySource. A single key only answers index 0.
func (s *Signer) Derive(index uint32) (solana.PrivateKey, error) {
	if index != 0 {
		return nil, fmt.Errorf("signer holds a single key, index %d is not available", index)
	}
	return s.privateKey, nil
}

// SignTransaction adds the signer's signature at its index in tx.
func (s *Signer) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	return mechsvm.SignTransaction(tx, s.privateKey)
}

var (
	_ KeySource = (*Signer)(nil)
	_ KeySource = (*Keyring)(nil)
)
