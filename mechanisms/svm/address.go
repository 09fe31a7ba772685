package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// DeriveSubAccountAddress returns the associated token account address of
// owner for mint under programID. The result depends only on its inputs.
func DeriveSubAccountAddress(owner, mint, programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			owner[:],
			programID[:],
			mint[:],
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// ParsePublicKey parses a base58 address, naming the field on failure
func ParsePublicKey(field, value string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s address %q: %w", field, value, err)
	}
	return pk, nil
}
