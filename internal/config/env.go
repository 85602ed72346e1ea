package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/AlexZinkM/pet-wallet/internal/client"
	appcommon "github.com/AlexZinkM/pet-wallet/internal/common"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config contains all configuration parameters for the application.
// Note: the keystore password is prompted at runtime - use GetPasswordBytes()
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	KeystoreDir string `envconfig:"KEYSTORE_DIR" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	RPCURL  string `envconfig:"RPC_URL" required:"true"`
	ChainID uint64 `envconfig:"CHAIN_ID" required:"true"`

	RelayURL           string `envconfig:"RELAY_URL"`
	RelayEnabled       bool   `envconfig:"RELAY_ENABLED" default:"true"`
	PetContract        string `envconfig:"PET_CONTRACT" required:"true"`
	DelegationContract string `envconfig:"DELEGATION_CONTRACT"`
	FeeToken           string `envconfig:"FEE_TOKEN" default:"0x0000000000000000000000000000000000000000"`

	RelayMaxAttempts   int           `envconfig:"RELAY_MAX_ATTEMPTS" default:"3"`
	RelayBaseDelay     time.Duration `envconfig:"RELAY_BASE_DELAY" default:"500ms"`
	StatusPollInterval time.Duration `envconfig:"STATUS_POLL_INTERVAL" default:"2s"`
	StatusMaxChecks    int           `envconfig:"STATUS_MAX_CHECKS" default:"30"`

	// PrefundThresholdEth of "0" disables the prefund warning
	PrefundThresholdEth string `envconfig:"PREFUND_THRESHOLD_ETH" default:"0"`

	// PriceAPIURL empty disables fiat values on the owner balance
	PriceAPIURL   string `envconfig:"PRICE_API_URL" default:"https://api.coingecko.com/api/v3"`
	PriceCurrency string `envconfig:"PRICE_CURRENCY" default:"usd"`
}

// cfg is the global configuration instance
var cfg *Config

// Init loads and validates configuration from environment variables.
func Init() error {
	loaded, err := Load()
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// Load reads the environment without touching the global instance
func Load() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process("", c); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the global configuration instance.
// Panics if Init() was not called.
func Get() *Config {
	if cfg == nil {
		panic("config not initialized, call Init() first")
	}
	return cfg
}

// Validate checks values envconfig cannot
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.PetContract) {
		return fmt.Errorf("PET_CONTRACT %q is not an address", c.PetContract)
	}
	if !common.IsHexAddress(c.FeeToken) {
		return fmt.Errorf("FEE_TOKEN %q is not an address", c.FeeToken)
	}
	if c.RelayEnabled {
		if c.RelayURL == "" {
			return errors.New("RELAY_URL is required when RELAY_ENABLED is true")
		}
		if !common.IsHexAddress(c.DelegationContract) {
			return fmt.Errorf("DELEGATION_CONTRACT %q is not an address", c.DelegationContract)
		}
	}
	if c.ChainID == 0 {
		return errors.New("CHAIN_ID must be positive")
	}
	if _, err := c.PrefundThresholdWei(); err != nil {
		return err
	}
	if c.PriceAPIURL != "" && c.PriceCurrency == "" {
		return errors.New("PRICE_CURRENCY is required when PRICE_API_URL is set")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return c.RetryPolicy().Validate()
}

// RetryPolicy builds the relay retry and polling policy
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		MaxAttempts:     c.RelayMaxAttempts,
		BaseDelay:       c.RelayBaseDelay,
		PollInterval:    c.StatusPollInterval,
		MaxStatusChecks: c.StatusMaxChecks,
	}
}

// PrefundThresholdWei returns the prefund threshold in wei
func (c *Config) PrefundThresholdWei() (*big.Int, error) {
	wei, err := appcommon.EtherToWei(c.PrefundThresholdEth)
	if err != nil {
		return nil, fmt.Errorf("PREFUND_THRESHOLD_ETH: %w", err)
	}
	return wei, nil
}

func (c *Config) PetAddress() common.Address {
	return common.HexToAddress(c.PetContract)
}

func (c *Config) DelegationAddress() common.Address {
	return common.HexToAddress(c.DelegationContract)
}

func (c *Config) FeeTokenAddress() common.Address {
	return common.HexToAddress(c.FeeToken)
}

// NewLogger builds the production logger at LOG_LEVEL
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

var passwordBytes []byte

// PromptForPassword prompts the user for the keystore password in the terminal.
// The password is read without echoing (hidden input) and stored in memory.
// Call this at startup before the server begins handling requests.
func PromptForPassword() error {
	raw, err := ReadPassword("Enter keystore password: ")
	if err != nil {
		return err
	}
	passwordBytes = raw
	return nil
}

// ReadPassword reads one non-empty password from the terminal without echo.
// Caller must zero the returned slice after use.
func ReadPassword(prompt string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal: run the app interactively to enter password")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	clear(raw)
	return out, nil
}

// GetPasswordBytes returns the password stored in memory (from PromptForPassword).
// Returns an error if the password was not set.
// Caller must zero the returned slice after use for security.
func GetPasswordBytes() ([]byte, error) {
	if len(passwordBytes) == 0 {
		return nil, errors.New("password not set: call PromptForPassword at startup")
	}
	out := make([]byte, len(passwordBytes))
	copy(out, passwordBytes)
	return out, nil
}

// ClearPassword zeroes the in-memory password
func ClearPassword() {
	clear(passwordBytes)
	passwordBytes = nil
}
