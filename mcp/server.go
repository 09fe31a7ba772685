package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	spltransfer "github.com/pai-labs/spltransfer"
	apihttp "github.com/pai-labs/spltransfer/http"
	"github.com/pai-labs/spltransfer/journal"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// ServerConfig wires a Server
type ServerConfig struct {
	Wallet *spltransfer.Wallet
	Keys   apihttp.KeySource

	// Journal backs get_transfer. Without it the tool is not registered.
	Journal *journal.Journal

	Name    string
	Version string
}

type toolHandler func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error)

// Server registers the wallet tools on an MCP server
type Server struct {
	wallet   *spltransfer.Wallet
	keys     apihttp.KeySource
	journal  *journal.Journal
	server   *mcpsdk.Server
	handlers map[string]toolHandler
}

// NewServer creates the MCP server and registers its tools
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}
	name := cfg.Name
	if name == "" {
		name = "spltransfer"
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s := &Server{
		wallet:   cfg.Wallet,
		keys:     cfg.Keys,
		journal:  cfg.Journal,
		server:   mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil),
		handlers: make(map[string]toolHandler),
	}

	s.addTool(ToolGetBalances, "Get the native balance and every token sub-account of an owner.", getBalancesSchema, s.getBalances)
	s.addTool(ToolEnsureAccount, "Make sure an owner has an associated token account for a mint, creating it if needed.", ensureAccountSchema, s.ensureAccount)
	s.addTool(ToolTransfer, "Transfer native currency or a token from a keyring account. Replays with the same requestId return the first submission.", transferSchema, s.transfer)
	if s.journal != nil {
		s.addTool(ToolGetTransfer, "Look up a transfer by request id.", getTransferSchema, s.getTransfer)
	}
	return s, nil
}

// SDKServer returns the underlying MCP server
func (s *Server) SDKServer() *mcpsdk.Server {
	return s.server
}

// RunStdio serves over stdin/stdout until ctx is done or the client leaves
func (s *Server) RunStdio(ctx context.Context) error {
	log.Info("mcp server running on stdio")
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// SSEHandler serves the tools over server-sent events
func (s *Server) SSEHandler() http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server {
		return s.server
	}, &mcpsdk.SSEOptions{})
}

func (s *Server) addTool(name, description string, schema json.RawMessage, handle func(ctx context.Context, args json.RawMessage) (interface{}, error)) {
	handler := func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		if err := validateArguments(schema, args); err != nil {
			return errorResult(apihttp.ErrorResponse{Code: apihttp.CodeBadRequest, Message: err.Error()}), nil
		}

		out, err := handle(ctx, args)
		if err != nil {
			log.WithError(err).WithField("tool", name).Debug("tool call failed")
			return errorResult(toErrorResponse(err)), nil
		}

		text, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s result: %w", name, err)
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		}, nil
	}

	s.handlers[name] = handler
	s.server.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, handler)
}

func (s *Server) getBalances(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, badRequest(err)
	}
	owner, err := svm.ParsePublicKey("owner", args.Owner)
	if err != nil {
		return nil, badRequest(err)
	}

	balances, err := s.wallet.GetBalances(ctx, owner)
	if err != nil {
		return nil, err
	}
	return apihttp.NewBalancesResponse(balances), nil
}

func (s *Server) ensureAccount(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args apihttp.EnsureAccountBody
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, badRequest(err)
	}
	owner, err := svm.ParsePublicKey("owner", args.Owner)
	if err != nil {
		return nil, badRequest(err)
	}
	mint, err := svm.ParsePublicKey("mint", args.Mint)
	if err != nil {
		return nil, badRequest(err)
	}
	payer, err := s.keys.Derive(args.PayerIndex)
	if err != nil {
		return nil, badRequest(fmt.Errorf("failed to derive key %d: %w", args.PayerIndex, err))
	}

	account, err := s.wallet.EnsureAccount(ctx, owner, mint, payer)
	if err != nil {
		return nil, err
	}
	return apihttp.NewAccountResponse(*account), nil
}

func (s *Server) transfer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args apihttp.TransferBody
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, badRequest(err)
	}
	to, err := svm.ParsePublicKey("to", args.To)
	if err != nil {
		return nil, badRequest(err)
	}
	amount, err := decimal.NewFromString(args.Amount)
	if err != nil {
		return nil, badRequest(fmt.Errorf("invalid amount %q: %w", args.Amount, err))
	}
	from, err := s.keys.Derive(args.FromIndex)
	if err != nil {
		return nil, badRequest(fmt.Errorf("failed to derive key %d: %w", args.FromIndex, err))
	}

	req := spltransfer.TransferRequest{
		RequestID: args.RequestID,
		From:      from,
		To:        to,
		Amount:    amount,
	}
	if args.Mint != "" {
		mint, err := svm.ParsePublicKey("mint", args.Mint)
		if err != nil {
			return nil, badRequest(err)
		}
		req.Mint = &mint
	}

	result, err := s.wallet.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	return apihttp.NewTransferResponse(result), nil
}

func (s *Server) getTransfer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var args struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, badRequest(err)
	}
	entry, err := s.journal.Lookup(ctx, args.RequestID)
	if errors.Is(err, journal.ErrNotFound) {
		return nil, &toolError{code: apihttp.CodeNotFound, err: err}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// toolError tags failures outside the ledger taxonomy
type toolError struct {
	code string
	err  error
}

func (e *toolError) Error() string { return e.err.Error() }
func (e *toolError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &toolError{code: apihttp.CodeBadRequest, err: err}
}

func toErrorResponse(err error) apihttp.ErrorResponse {
	var te *toolError
	if errors.As(err, &te) {
		return apihttp.ErrorResponse{Code: te.code, Message: te.Error()}
	}
	var le *spltransfer.LedgerError
	if errors.As(err, &le) {
		return apihttp.ErrorResponse{Code: le.Code, Message: le.Error(), Details: le.Details}
	}
	return apihttp.ErrorResponse{Code: apihttp.CodeInternal, Message: err.Error()}
}

func errorResult(resp apihttp.ErrorResponse) *mcpsdk.CallToolResult {
	text, err := json.Marshal(resp)
	if err != nil {
		text = []byte(resp.Message)
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
	}
}
