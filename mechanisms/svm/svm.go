// Package svm holds the Solana primitives shared by the provisioner and the
// transfer orchestrator: program ids, network presets, associated token
// account derivation, instruction builders, account decoding and transaction
// assembly. Nothing here performs I/O.
package svm

import (
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Network identifiers accepted in configuration
const (
	NetworkMainnet  = "mainnet"
	NetworkDevnet   = "devnet"
	NetworkTestnet  = "testnet"
	NetworkLocalnet = "localnet"
)

// CAIP-2 identifiers of the public clusters
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// Well-known mints
const (
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGbZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	WrappedSOLAddress  = "So11111111111111111111111111111111111111112"
)

// AssetInfo describes a mint known without asking the ledger
type AssetInfo struct {
	Symbol    string
	Mint      solana.PublicKey
	ProgramID solana.PublicKey
	Decimals  uint8
}

// NetworkConfig is the preset for one cluster
type NetworkConfig struct {
	Name   string
	CAIP2  string
	RPCURL string
	Assets []AssetInfo
}

var networks = map[string]*NetworkConfig{
	NetworkMainnet: {
		Name:   NetworkMainnet,
		CAIP2:  SolanaMainnetCAIP2,
		RPCURL: rpc.MainNetBeta_RPC,
		Assets: []AssetInfo{
			{Symbol: "USDC", Mint: solana.MustPublicKeyFromBase58(USDCMainnetAddress), ProgramID: solana.TokenProgramID, Decimals: 6},
			{Symbol: "WSOL", Mint: solana.MustPublicKeyFromBase58(WrappedSOLAddress), ProgramID: solana.TokenProgramID, Decimals: 9},
		},
	},
	NetworkDevnet: {
		Name:   NetworkDevnet,
		CAIP2:  SolanaDevnetCAIP2,
		RPCURL: rpc.DevNet_RPC,
		Assets: []AssetInfo{
			{Symbol: "USDC", Mint: solana.MustPublicKeyFromBase58(USDCDevnetAddress), ProgramID: solana.TokenProgramID, Decimals: 6},
			{Symbol: "WSOL", Mint: solana.MustPublicKeyFromBase58(WrappedSOLAddress), ProgramID: solana.TokenProgramID, Decimals: 9},
		},
	},
	NetworkTestnet: {
		Name:   NetworkTestnet,
		CAIP2:  SolanaTestnetCAIP2,
		RPCURL: rpc.TestNet_RPC,
	},
	NetworkLocalnet: {
		Name:   NetworkLocalnet,
		RPCURL: rpc.LocalNet_RPC,
	},
}

// GetNetworkConfig resolves a network name or CAIP-2 id to its preset
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	key := strings.ToLower(strings.TrimSpace(network))
	if cfg, ok := networks[key]; ok {
		return cfg, nil
	}
	for _, cfg := range networks {
		if cfg.CAIP2 != "" && cfg.CAIP2 == network {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// IsValidNetwork reports whether network names a known preset
func IsValidNetwork(network string) bool {
	_, err := GetNetworkConfig(network)
	return err == nil
}

// IsTokenProgram reports whether programID is SPL Token or Token-2022
func IsTokenProgram(programID solana.PublicKey) bool {
	return programID.Equals(solana.TokenProgramID) || programID.Equals(solana.Token2022ProgramID)
}

// TokenPrograms lists the programs sub-accounts can live under, legacy first
func TokenPrograms() []solana.PublicKey {
	return []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}
}
