// Package mcp exposes the wallet as Model Context Protocol tools.
//
// # Tools
//
//   - get_balances: native balance and every sub-account of an owner
//   - ensure_account: provision the owner's sub-account for a mint
//   - transfer: send native or asset value from a keyring account
//   - get_transfer: look up a journaled transfer by request id
//
// Arguments are validated against each tool's JSON schema before the wallet
// is touched. Ledger failures come back as tool errors whose text is a JSON
// object carrying the error code, so agents can branch on it.
//
// # Usage
//
//	server, _ := mcp.NewServer(mcp.ServerConfig{Wallet: wallet, Keys: keyring, Journal: j})
//	err := server.RunStdio(ctx)
package mcp
