package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rpc-router-go/internal/rpc"
)

// Config is the application configuration.
type Config struct {
	// Network settings
	Network string `mapstructure:"network" yaml:"network"`

	// Providers is the static RPC endpoint table. URLs may reference
	// credentials as ${VAR}; unresolved references fail validation.
	Providers []rpc.ProviderConfig `mapstructure:"providers" yaml:"providers"`

	Selector    rpc.SelectorConfig    `mapstructure:"selector" yaml:"selector"`
	Tracker     rpc.TrackerConfig     `mapstructure:"tracker" yaml:"tracker"`
	Manager     rpc.ManagerConfig     `mapstructure:"manager" yaml:"manager"`
	Queue       rpc.QueueConfig       `mapstructure:"queue" yaml:"queue"`
	ConnCache   rpc.ConnCacheConfig   `mapstructure:"conn_cache" yaml:"conn_cache"`
	ResultCache rpc.ResultCacheConfig `mapstructure:"result_cache" yaml:"result_cache"`

	// Jupiter settings
	Jupiter JupiterConfig `mapstructure:"jupiter" yaml:"jupiter"`

	// Wallet settings. Key material arrives only via environment.
	Wallet WalletConfig `mapstructure:"wallet" yaml:"wallet"`

	// Swap settings
	Swap SwapConfig `mapstructure:"swap" yaml:"swap"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Advanced settings
	Advanced AdvancedConfig `mapstructure:"advanced" yaml:"advanced"`
}

// JupiterConfig contains aggregator client settings.
type JupiterConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QuoteTTL      time.Duration `mapstructure:"quote_ttl" yaml:"quote_ttl"`
	QuoteCacheMax int           `mapstructure:"quote_cache_max" yaml:"quote_cache_max"`
}

// WalletConfig names the environment variables carrying key material. The
// values themselves never appear in config files.
type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env" yaml:"private_key_env"`
	MnemonicEnv   string `mapstructure:"mnemonic_env" yaml:"mnemonic_env"`
}

// SwapConfig contains swap execution settings.
type SwapConfig struct {
	SlippageBP       int           `mapstructure:"slippage_bp" yaml:"slippage_bp"`
	PriorityFee      uint64        `mapstructure:"priority_fee" yaml:"priority_fee"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	ConfirmPollEvery time.Duration `mapstructure:"confirm_poll_every" yaml:"confirm_poll_every"`
	DryRun           bool          `mapstructure:"dry_run" yaml:"dry_run"`
	HistoryDir       string        `mapstructure:"history_dir" yaml:"history_dir"`
	WrapAndUnwrapSol bool          `mapstructure:"wrap_and_unwrap_sol" yaml:"wrap_and_unwrap_sol"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	LogToFile   bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
	LogFilePath string `mapstructure:"log_file_path" yaml:"log_file_path"`
}

// AdvancedConfig contains operational settings.
type AdvancedConfig struct {
	EnableMetrics    bool          `mapstructure:"enable_metrics" yaml:"enable_metrics"`
	MetricsPort      int           `mapstructure:"metrics_port" yaml:"metrics_port"`
	EnableSlotWatch  bool          `mapstructure:"enable_slot_watch" yaml:"enable_slot_watch"`
	StatsDir         string        `mapstructure:"stats_dir" yaml:"stats_dir"`
	StatsInterval    time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	CacheSweepEvery  time.Duration `mapstructure:"cache_sweep_every" yaml:"cache_sweep_every"`
	HealthSweepEvery time.Duration `mapstructure:"health_sweep_every" yaml:"health_sweep_every"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string, envPath string) (*Config, error) {
	// loadEnvFile already tolerates a missing default .env; any error it
	// returns means a file was named or found and could not be read.
	if err := loadEnvFile(envPath); err != nil {
		return nil, err
	}

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("router")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/rpc-router/")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Providers) == 0 {
		config.Providers = defaultProviders(config.Network)
	}
	if err := expandProviderCredentials(config); err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// loadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Missing default locations are not an error.
func loadEnvFile(envPath string) error {
	candidates := []string{}
	if envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, ".env", "configs/.env")

	var found string
	for _, file := range candidates {
		if _, err := os.Stat(file); err == nil {
			found = file
			break
		}
	}
	if found == "" {
		if envPath != "" {
			return fmt.Errorf("specified .env file not found: %s", envPath)
		}
		return nil
	}

	file, err := os.Open(found)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		os.Setenv(key, value)
	}
	return scanner.Err()
}

func setDefaults() {
	viper.SetDefault("network", "mainnet")

	viper.SetDefault("selector.strategy", rpc.StrategyPriority)
	viper.SetDefault("selector.health_penalty", 10.0)
	viper.SetDefault("selector.latency_weight", 2.0)
	viper.SetDefault("selector.utilization_weight", 3.0)
	viper.SetDefault("selector.priority_weight", 1.0)

	viper.SetDefault("tracker.max_consecutive_failures", 3)
	viper.SetDefault("tracker.rate_limit_cooldown", "5s")
	viper.SetDefault("tracker.backoff_base", "1s")
	viper.SetDefault("tracker.backoff_cap", "30s")
	viper.SetDefault("tracker.slot_stale_after", "30s")

	viper.SetDefault("manager.timeout", "30s")
	viper.SetDefault("manager.commitment", "confirmed")

	viper.SetDefault("queue.drain_interval", "25ms")
	viper.SetDefault("queue.enable_batching", true)
	viper.SetDefault("queue.batch_size", 4)
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.retry_delay", "500ms")

	viper.SetDefault("conn_cache.ttl", "60s")
	viper.SetDefault("conn_cache.max_size", 32)
	viper.SetDefault("result_cache.ttl", "2s")
	viper.SetDefault("result_cache.max_size", 512)
	viper.SetDefault("result_cache.methods", rpc.DefaultResultCacheConfig().Methods)

	viper.SetDefault("jupiter.base_url", JupiterBaseURL)
	viper.SetDefault("jupiter.timeout", "15s")
	viper.SetDefault("jupiter.quote_ttl", "3s")
	viper.SetDefault("jupiter.quote_cache_max", 128)

	viper.SetDefault("wallet.private_key_env", "ROUTER_PRIVATE_KEY")
	viper.SetDefault("wallet.mnemonic_env", "ROUTER_MNEMONIC")

	viper.SetDefault("swap.slippage_bp", DefaultSlippageBP)
	viper.SetDefault("swap.confirm_timeout", "30s")
	viper.SetDefault("swap.confirm_poll_every", "2s")
	viper.SetDefault("swap.dry_run", false)
	viper.SetDefault("swap.history_dir", "data")
	viper.SetDefault("swap.wrap_and_unwrap_sol", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("advanced.enable_metrics", false)
	viper.SetDefault("advanced.metrics_port", 9091)
	viper.SetDefault("advanced.enable_slot_watch", false)
	viper.SetDefault("advanced.stats_dir", "stats")
	viper.SetDefault("advanced.stats_interval", "30s")
	viper.SetDefault("advanced.cache_sweep_every", "10s")
	viper.SetDefault("advanced.health_sweep_every", "10s")
}

// defaultProviders returns the single public endpoint for the network, the
// zero-configuration fallback.
func defaultProviders(network string) []rpc.ProviderConfig {
	return []rpc.ProviderConfig{
		{
			Name:     "public",
			URL:      GetRPCEndpoint(network),
			WSURL:    GetWSEndpoint(network),
			Priority: 10,
			Weight:   1,
			Enabled:  true,
			// The public endpoint throttles aggressively.
			MaxPerSecond: 10,
		},
	}
}

// expandProviderCredentials substitutes ${VAR} references in provider URLs
// from the environment. A reference that stays unresolved means a missing
// credential; the process must not start half-configured.
func expandProviderCredentials(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.URL = os.ExpandEnv(p.URL)
		p.WSURL = os.ExpandEnv(p.WSURL)
		if !p.Enabled {
			continue
		}
		if strings.Contains(p.URL, "${") || p.URL == "" {
			return fmt.Errorf("provider %s: credential reference unresolved in url (missing environment variable)", p.Name)
		}
	}
	return nil
}

// Validate checks the assembled configuration.
func Validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	enabled := 0
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no providers enabled")
	}
	if cfg.Swap.SlippageBP < 0 || cfg.Swap.SlippageBP > 10000 {
		return fmt.Errorf("invalid slippage: %d bp", cfg.Swap.SlippageBP)
	}
	switch cfg.Selector.Strategy {
	case "", rpc.StrategyPriority, rpc.StrategyRoundRobin, rpc.StrategyWeighted, rpc.StrategyAdaptive:
	default:
		return fmt.Errorf("unknown selector strategy: %s", cfg.Selector.Strategy)
	}
	return nil
}
