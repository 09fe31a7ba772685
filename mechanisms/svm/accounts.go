package svm

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Base layout sizes. Token-2022 accounts append extensions after these.
const (
	TokenAccountSize = 165
	MintSize         = 82
)

// DecodeTokenAccount decodes the base layout of a token account
func DecodeTokenAccount(data []byte) (*token.Account, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: need %d bytes, got %d", TokenAccountSize, len(data))
	}
	var account token.Account
	if err := bin.NewBinDecoder(data).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode token account: %w", err)
	}
	return &account, nil
}

// DecodeMint decodes the base layout of a mint
func DecodeMint(data []byte) (*token.Mint, error) {
	if len(data) < MintSize {
		return nil, fmt.Errorf("mint data too short: need %d bytes, got %d", MintSize, len(data))
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(data).Decode(&mint); err != nil {
		return nil, fmt.Errorf("failed to decode mint data: %w", err)
	}
	return &mint, nil
}

// EncodeTokenAccount serialises the base layout of a token account
func EncodeTokenAccount(account *token.Account) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(account); err != nil {
		return nil, fmt.Errorf("failed to encode token account: %w", err)
	}
	return padTo(buf.Bytes(), TokenAccountSize), nil
}

// EncodeMint serialises the base layout of a mint
func EncodeMint(mint *token.Mint) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBinEncoder(buf).Encode(mint); err != nil {
		return nil, fmt.Errorf("failed to encode mint data: %w", err)
	}
	return padTo(buf.Bytes(), MintSize), nil
}

func padTo(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	return append(data, make([]byte, size-len(data))...)
}
