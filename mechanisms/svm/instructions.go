package svm

import (
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Instruction discriminators the simulated ledger and the decoders rely on
const (
	TransferCheckedDiscriminator = 12 // token.Instruction_TransferChecked
	SystemTransferDiscriminator  = 2  // system.Instruction_Transfer
)

// NewCreateSubAccountInstruction builds the associated token account program
// Create instruction. It fails on-chain when the account already exists.
//
// Accounts:
//
//	[0] payer          writable, signer
//	[1] sub-account    writable
//	[2] owner
//	[3] mint
//	[4] system program
//	[5] token program
func NewCreateSubAccountInstruction(payer, owner, mint, programID solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	if !IsTokenProgram(programID) {
		return nil, solana.PublicKey{}, fmt.Errorf("unsupported token program: %s", programID)
	}
	addr, err := DeriveSubAccountAddress(owner, mint, programID)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(addr, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(programID, false, false),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{}), addr, nil
}

// NewTransferCheckedInstruction builds TransferChecked under programID.
// The token package binds its builders to the legacy program, so the encoded
// instruction is re-issued under the mint's own program.
func NewTransferCheckedInstruction(
	programID solana.PublicKey,
	amount uint64,
	decimals uint8,
	source, mint, destination, owner solana.PublicKey,
) (solana.Instruction, error) {
	if !IsTokenProgram(programID) {
		return nil, fmt.Errorf("unsupported token program: %s", programID)
	}

	ix, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(source).
		SetMintAccount(mint).
		SetDestinationAccount(destination).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer instruction: %w", err)
	}
	return solana.NewInstruction(programID, ix.Accounts(), data), nil
}

// NewNativeTransferInstruction builds a system program lamport transfer
func NewNativeTransferInstruction(lamports uint64, from, to solana.PublicKey) (solana.Instruction, error) {
	ix, err := system.NewTransferInstruction(lamports, from, to).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build native transfer instruction: %w", err)
	}
	return ix, nil
}

// TransferCheckedArgs is the decoded payload of a TransferChecked instruction
type TransferCheckedArgs struct {
	Amount   uint64
	Decimals uint8
}

// DecodeTransferCheckedData parses TransferChecked instruction data:
//
//	[0]     discriminator (12)
//	[1..8]  amount   U64 LE
//	[9]     decimals U8
func DecodeTransferCheckedData(data []byte) (*TransferCheckedArgs, error) {
	if len(data) != 10 || data[0] != TransferCheckedDiscriminator {
		return nil, fmt.Errorf("not a transfer checked instruction")
	}
	return &TransferCheckedArgs{
		Amount:   binary.LittleEndian.Uint64(data[1:9]),
		Decimals: data[9],
	}, nil
}

// DecodeNativeTransferData parses system Transfer instruction data:
//
//	[0..3]  discriminator U32 LE (2)
//	[4..11] lamports      U64 LE
func DecodeNativeTransferData(data []byte) (uint64, error) {
	if len(data) != 12 || binary.LittleEndian.Uint32(data[0:4]) != SystemTransferDiscriminator {
		return 0, fmt.Errorf("not a system transfer instruction")
	}
	return binary.LittleEndian.Uint64(data[4:12]), nil
}
