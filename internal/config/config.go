package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/journal"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
	"github.com/pai-labs/spltransfer/mechanisms/svm/ledger"
	signersvm "github.com/pai-labs/spltransfer/signers/svm"
)

type Config struct {
	Network               string
	RPCURL                string
	Commitment            string
	RequestsPerSecond     float64
	Mnemonic              string
	Passphrase            string
	PrivateKey            string
	PollAttempts          int
	PollInterval          time.Duration
	PollBackoff           bool
	FeeReserve            uint64
	SkipPreflightGate     bool
	StrictTransportErrors bool
	JournalType           string
	JournalTTL            time.Duration
	Datadir               string
	RedisURL              string
	Listen                string
	LogLevel              int

	network *svm.NetworkConfig
}

func (c *Config) String() string {
	clone := *c
	if clone.Mnemonic != "" {
		clone.Mnemonic = "••••••"
	}
	if clone.Passphrase != "" {
		clone.Passphrase = "••••••"
	}
	if clone.PrivateKey != "" {
		clone.PrivateKey = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultNetwork      = svm.NetworkDevnet
	defaultCommitment   = string(rpc.CommitmentConfirmed)
	defaultRPS          = 10.0
	defaultJournalType  = "inmemory"
	defaultJournalTTL   = journal.DefaultTTL
	defaultListen       = "127.0.0.1:8080"
	defaultLogLevel     = 4
	defaultPollAttempts = spltransfer.DefaultPollAttempts
	defaultPollInterval = spltransfer.DefaultPollInterval
	defaultFeeReserve   = spltransfer.DefaultFeeReserve

	supportedJournalTypes = supportedType{
		"inmemory": {},
		"badger":   {},
		"redis":    {},
	}
	supportedCommitments = supportedType{
		string(rpc.CommitmentProcessed): {},
		string(rpc.CommitmentConfirmed): {},
		string(rpc.CommitmentFinalized): {},
	}
)

// env returns a list of strings prefixed with `SPLTRANSFER_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("SPLTRANSFER_%s", value)
	}

	return envs
}

var (
	ConfigFile = &cli.StringFlag{
		Usage: "Optional YAML file supplying values for flags not set otherwise",
		Name:  "config", EnvVars: env("CONFIG"),
	}

	Network = &cli.StringFlag{
		Usage: "Network (mainnet, devnet, testnet, localnet), selects the default RPC URL and known assets",
		Name:  "network", EnvVars: env("NETWORK"),
		Value: defaultNetwork,
	}

	RPCURL = &cli.StringFlag{
		Usage: "RPC endpoint, overrides the network default",
		Name:  "rpc-url", EnvVars: env("RPC_URL"),
	}

	Commitment = &cli.StringFlag{
		Usage: "Commitment used for reads and preflight (processed, confirmed, finalized)",
		Name:  "commitment", EnvVars: env("COMMITMENT"),
		Value: defaultCommitment,
	}

	RequestsPerSecond = &cli.Float64Flag{
		Usage: "Cap on outgoing RPC requests per second, 0 disables the limiter",
		Name:  "rpc-rps", EnvVars: env("RPC_RPS"),
		Value: defaultRPS,
	}

	Mnemonic = &cli.StringFlag{
		Usage: "BIP-39 mnemonic the signing keys are derived from",
		Name:  "mnemonic", EnvVars: env("MNEMONIC"),
	}

	Passphrase = &cli.StringFlag{
		Usage: "Optional BIP-39 passphrase",
		Name:  "passphrase", EnvVars: env("PASSPHRASE"),
	}

	PrivateKey = &cli.StringFlag{
		Usage: "Base58 private key used instead of a mnemonic, only account index 0 is available",
		Name:  "private-key", EnvVars: env("PRIVATE_KEY"),
	}

	PollAttempts = &cli.IntFlag{
		Usage: "Reads after a sub-account creation before giving up",
		Name:  "poll-attempts", EnvVars: env("POLL_ATTEMPTS"),
		Value: defaultPollAttempts,
	}

	PollInterval = &cli.DurationFlag{
		Usage: "Pause between reads while waiting for the ledger",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: defaultPollInterval,
	}

	PollBackoff = &cli.BoolFlag{
		Usage: "Grow the pause between reads exponentially",
		Name:  "poll-backoff", EnvVars: env("POLL_BACKOFF"),
	}

	FeeReserve = &cli.Uint64Flag{
		Usage: "Lamports the sender must keep for fees and rent",
		Name:  "fee-reserve", EnvVars: env("FEE_RESERVE"),
		Value: defaultFeeReserve,
	}

	SkipPreflightGate = &cli.BoolFlag{
		Usage: "Skip the balance checks before submitting",
		Name:  "skip-preflight-gate", EnvVars: env("SKIP_PREFLIGHT_GATE"),
	}

	StrictTransportErrors = &cli.BoolFlag{
		Usage: "Fail provisioning on transport errors while submitting a creation",
		Name:  "strict-transport-errors", EnvVars: env("STRICT_TRANSPORT_ERRORS"),
	}

	JournalType = &cli.StringFlag{
		Usage: "Transfer journal backend (inmemory, badger, redis)",
		Name:  "journal-type", EnvVars: env("JOURNAL_TYPE"),
		Value: defaultJournalType,
	}

	JournalTTL = &cli.DurationFlag{
		Usage: "Retention of settled journal entries, 0 keeps them forever",
		Name:  "journal-ttl", EnvVars: env("JOURNAL_TTL"),
		Value: defaultJournalTTL,
	}

	Datadir = &cli.StringFlag{
		Usage: "Directory of the badger journal",
		Name:  "datadir", EnvVars: env("DATADIR"),
	}

	RedisURL = &cli.StringFlag{
		Usage: "Redis URL of the redis journal",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	Listen = &cli.StringFlag{
		Usage: "Address the HTTP API listens on",
		Name:  "listen", EnvVars: env("LISTEN"),
		Value: defaultListen,
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}
)

var Flags = []cli.Flag{
	ConfigFile,
	Network,
	RPCURL,
	Commitment,
	RequestsPerSecond,
	Mnemonic,
	Passphrase,
	PrivateKey,
	PollAttempts,
	PollInterval,
	PollBackoff,
	FeeReserve,
	SkipPreflightGate,
	StrictTransportErrors,
	JournalType,
	JournalTTL,
	Datadir,
	RedisURL,
	Listen,
	LogLevel,
}

// LoadConfig reads flags, environment and the optional config file, in that
// order of precedence.
func LoadConfig(c *cli.Context) (*Config, error) {
	v := viper.New()
	if path := c.String(ConfigFile.Name); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	src := source{c: c, v: v}

	cfg := &Config{
		Network:               src.String(Network),
		RPCURL:                src.String(RPCURL),
		Commitment:            src.String(Commitment),
		RequestsPerSecond:     src.Float64(RequestsPerSecond),
		Mnemonic:              strings.TrimSpace(src.String(Mnemonic)),
		Passphrase:            src.String(Passphrase),
		PrivateKey:            strings.TrimSpace(src.String(PrivateKey)),
		PollAttempts:          src.Int(PollAttempts),
		PollInterval:          src.Duration(PollInterval),
		PollBackoff:           src.Bool(PollBackoff),
		FeeReserve:            src.Uint64(FeeReserve),
		SkipPreflightGate:     src.Bool(SkipPreflightGate),
		StrictTransportErrors: src.Bool(StrictTransportErrors),
		JournalType:           src.String(JournalType),
		JournalTTL:            src.Duration(JournalTTL),
		Datadir:               src.String(Datadir),
		RedisURL:              src.String(RedisURL),
		Listen:                src.String(Listen),
		LogLevel:              src.Int(LogLevel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config and resolves the network defaults
func (c *Config) Validate() error {
	network, err := svm.GetNetworkConfig(c.Network)
	if err != nil {
		return err
	}
	c.network = network
	if c.RPCURL == "" {
		c.RPCURL = network.RPCURL
	}

	if !supportedCommitments.supports(c.Commitment) {
		return fmt.Errorf("commitment type not supported, please select one of: %s", supportedCommitments)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("rpc-rps must not be negative")
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("poll-attempts must be at least 1")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll-interval must not be negative")
	}
	if c.Mnemonic != "" && c.PrivateKey != "" {
		return fmt.Errorf("mnemonic and private-key are mutually exclusive")
	}
	if c.LogLevel < int(log.PanicLevel) || c.LogLevel > int(log.TraceLevel) {
		return fmt.Errorf("log-level must be between 0 and 6")
	}

	if !supportedJournalTypes.supports(c.JournalType) {
		return fmt.Errorf("journal type not supported, please select one of: %s", supportedJournalTypes)
	}
	if c.JournalType == "badger" && c.Datadir == "" {
		return fmt.Errorf("journal type set to 'badger' but datadir is missing")
	}
	if c.JournalType == "redis" && c.RedisURL == "" {
		return fmt.Errorf("journal type set to 'redis' but redis url is missing")
	}
	return nil
}

// PollPolicy returns the polling bounds for provisioning and balance checks
func (c *Config) PollPolicy() spltransfer.Policy {
	return spltransfer.Policy{
		MaxAttempts: c.PollAttempts,
		Interval:    c.PollInterval,
		Backoff:     c.PollBackoff,
	}
}

// LedgerClient opens the RPC client
func (c *Config) LedgerClient() (*ledger.Client, error) {
	return ledger.New(ledger.Config{
		RPCURL:            c.RPCURL,
		Commitment:        rpc.CommitmentType(c.Commitment),
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             1,
	})
}

// WalletConfig wires a wallet over l
func (c *Config) WalletConfig(l spltransfer.LedgerClient) spltransfer.WalletConfig {
	cfg := spltransfer.WalletConfig{
		Ledger:                l,
		PollPolicy:            c.PollPolicy(),
		FeeReserve:            c.FeeReserve,
		DisablePreflightGate:  c.SkipPreflightGate,
		StrictTransportErrors: c.StrictTransportErrors,
	}
	if c.network != nil {
		cfg.KnownAssets = c.network.Assets
	}
	return cfg
}

// Keyring derives the signing keys from the configured mnemonic
func (c *Config) Keyring() (*signersvm.Keyring, error) {
	if c.Mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required, set --mnemonic or SPLTRANSFER_MNEMONIC")
	}
	return signersvm.NewHDKeyring(c.Mnemonic, c.Passphrase)
}

// KeySource returns the keyring of the mnemonic, or a single-key signer when
// a private key is configured
func (c *Config) KeySource() (signersvm.KeySource, error) {
	if c.PrivateKey != "" {
		return signersvm.NewSignerFromPrivateKey(c.PrivateKey)
	}
	return c.Keyring()
}

// JournalStore opens the configured journal backend
func (c *Config) JournalStore(ctx context.Context) (journal.Store, error) {
	switch c.JournalType {
	case "inmemory":
		return journal.NewInMemoryStore(c.JournalTTL), nil
	case "badger":
		if err := makeDirectoryIfNotExists(c.Datadir); err != nil {
			return nil, fmt.Errorf("failed to create datadir: %s", err)
		}
		return journal.NewBadgerStore(c.Datadir, badgerLogger{})
	case "redis":
		return journal.NewRedisStoreFromURL(ctx, c.RedisURL, c.JournalTTL)
	default:
		return nil, fmt.Errorf("unknown journal type")
	}
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

// badgerLogger routes badger's logs to logrus, demoting its info chatter
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { log.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { log.Warnf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { log.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { log.Tracef(format, args...) }

var _ badger.Logger = badgerLogger{}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
