package svm

import (
	"encoding/base64"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// BuildTransaction assembles instructions into an unsigned transaction bound
// to anchor, with feePayer paying the fee.
func BuildTransaction(feePayer solana.PublicKey, anchor solana.Hash, instructions ...solana.Instruction) (*solana.Transaction, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("transaction needs at least one instruction")
	}
	tx, err := solana.NewTransaction(instructions, anchor, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

// SignTransaction adds the signature of privateKey at its signer index.
// Other signatures already on tx are kept, so multi-signer transactions can be
// signed one key at a time.
func SignTransaction(tx *solana.Transaction, privateKey solana.PrivateKey) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if int(accountIndex) >= int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("%s is not a required signer", privateKey.PublicKey())
	}

	if len(tx.Signatures) < int(tx.Message.Header.NumRequiredSignatures) {
		signatures := make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
		copy(signatures, tx.Signatures)
		tx.Signatures = signatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}

// BuildSignedTransaction builds and fully signs a single-signer transaction
func BuildSignedTransaction(signer solana.PrivateKey, anchor solana.Hash, instructions ...solana.Instruction) (*solana.Transaction, error) {
	tx, err := BuildTransaction(signer.PublicKey(), anchor, instructions...)
	if err != nil {
		return nil, err
	}
	if err := SignTransaction(tx, signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// EncodeTransaction serialises tx to base64 wire format
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// DecodeTransaction parses a base64 wire-format transaction
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	txBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(txBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return tx, nil
}

// FirstSignature returns the transaction id, the fee payer's signature
func FirstSignature(tx *solana.Transaction) (solana.Signature, error) {
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return solana.Signature{}, fmt.Errorf("transaction is not signed")
	}
	return tx.Signatures[0], nil
}
