// Package config holds the typed, runtime-immutable configuration record
// consumed by the daemon. Loading is a thin envconfig pass plus an
// optional JSON override file; parsing CLI flags and pretty-printing are
// the caller's problem, not this package's.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of startup inputs for the daemon. Everything
// here is fixed for the lifetime of the process; the only piece that
// changes at runtime is DaemonConfig, which lives in the store.
type Config struct {
	// ContractID is the Stellar-like contract address emitting PIN/PINNED/UNPIN events.
	ContractID string `envconfig:"CONTRACT_ID" required:"true"`

	// RPCURL is the Soroban-style JSON-RPC endpoint used for event polling,
	// simulation, and transaction submission.
	RPCURL string `envconfig:"RPC_URL" required:"true"`

	// NetworkPassphrase selects the ledger network for transaction signing.
	NetworkPassphrase string `envconfig:"NETWORK_PASSPHRASE" default:"Test SDF Network ; September 2015"`

	// HorizonURL is the Horizon REST endpoint used for account sequence and
	// balance lookups (Soroban RPC does not expose these directly).
	HorizonURL string `envconfig:"HORIZON_URL" default:"https://horizon-testnet.stellar.org"`

	// OperatorSecretEnv names the environment variable holding the operator's
	// signing key (never read from the config file itself, per spec §6).
	OperatorSecretEnv string `envconfig:"OPERATOR_SECRET_ENV" default:"PINNERD_OPERATOR_SECRET"`

	// KuboRPCURL is the local storage node's HTTP API base URL.
	KuboRPCURL string `envconfig:"KUBO_RPC_URL" default:"http://127.0.0.1:5001"`

	// DBPath is the path to the SQLite state store file. Empty means in-memory.
	DBPath string `envconfig:"DB_PATH" default:"./pinnerd.db"`

	// IPCListenAddr is the local-only address the aggregation/IPC HTTP server binds.
	IPCListenAddr string `envconfig:"IPC_LISTEN_ADDR" default:"127.0.0.1:7855"`

	// PollIntervalSec is the daemon loop's sleep between poll batches, seconds.
	PollIntervalSec int `envconfig:"POLL_INTERVAL_SEC" default:"5"`

	// DefaultMinPrice and DefaultMaxContentSize seed DaemonConfig on first run.
	DefaultMinPrice        int64 `envconfig:"DEFAULT_MIN_PRICE" default:"0"`
	DefaultMaxContentSize  int64 `envconfig:"DEFAULT_MAX_CONTENT_SIZE" default:"1073741824"`
	DefaultMode            string `envconfig:"DEFAULT_MODE" default:"APPROVE"`

	// ConservativeTxFee is used for net-profit estimation when simulate fails.
	ConservativeTxFee int64 `envconfig:"CONSERVATIVE_TX_FEE" default:"100000"`

	// Hunter tuning.
	HunterEnabled         bool `envconfig:"HUNTER_ENABLED" default:"true"`
	HunterCycleIntervalSec int `envconfig:"HUNTER_CYCLE_INTERVAL_SEC" default:"300"`
	HunterFailureThreshold int `envconfig:"HUNTER_FAILURE_THRESHOLD" default:"3"`
	HunterMaxConcurrentChecks int `envconfig:"HUNTER_MAX_CONCURRENT_CHECKS" default:"8"`
	HunterCooldownAfterFlagSec int `envconfig:"HUNTER_COOLDOWN_AFTER_FLAG_SEC" default:"86400"`
	HunterCheckTimeoutSec int `envconfig:"HUNTER_CHECK_TIMEOUT_SEC" default:"10"`
	HunterRetrievalEnabled bool `envconfig:"HUNTER_RETRIEVAL_ENABLED" default:"false"`
	PinnerCacheTTLSec     int  `envconfig:"PINNER_CACHE_TTL_SEC" default:"3600"`

	// UnpinOnEvent controls whether UNPIN events remove local content. Default
	// keep, per spec §9 open question.
	UnpinOnEvent bool `envconfig:"UNPIN_ON_EVENT" default:"false"`

	// PinTimeoutSec / FetchTimeoutSec bound the executor's external calls.
	FetchTimeoutSec int `envconfig:"FETCH_TIMEOUT_SEC" default:"120"`
	AddTimeoutSec   int `envconfig:"ADD_TIMEOUT_SEC" default:"120"`
	PinTimeoutSec   int `envconfig:"PIN_TIMEOUT_SEC" default:"30"`

	// ApprovalQueueTTLSec is how long an awaiting_approval offer can sit
	// before the daemon loop expires it.
	ApprovalQueueTTLSec int64 `envconfig:"APPROVAL_QUEUE_TTL_SEC" default:"3600"`
}

// Load reads configuration from the environment, applying an optional
// JSON override file first so that env vars always win. Values are
// consumed as plain inputs by the daemon; this function does not
// validate domain semantics beyond required-field presence.
func Load(overridePath string) (*Config, error) {
	var cfg Config

	if overridePath != "" {
		if data, err := os.ReadFile(overridePath); err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config override: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config override: %w", err)
		}
	}

	if err := envconfig.Process("PINNERD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	return &cfg, nil
}

// OperatorSecret returns the signing key material from the configured
// environment variable. A missing key is a configuration/identity error
// per spec §7 and should be fatal at startup.
func (c *Config) OperatorSecret() (string, error) {
	v := os.Getenv(c.OperatorSecretEnv)
	if v == "" {
		return "", fmt.Errorf("operator secret not set in env var %s", c.OperatorSecretEnv)
	}
	return v, nil
}
