package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Modules   ModulesConfig   `mapstructure:"modules"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ChainConfig struct {
	Name        string        `mapstructure:"name"`
	ChainID     int64         `mapstructure:"chain_id"`
	RPCEndpoint string        `mapstructure:"rpc_endpoint"`
	BlockTime   time.Duration `mapstructure:"block_time"`
	StartBlock  uint64        `mapstructure:"start_block"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type ProcessorConfig struct {
	BatchSize int            `mapstructure:"batch_size"`
	Workers   int            `mapstructure:"workers"`
	FastSync  FastSyncConfig `mapstructure:"fast_sync"`
}

type FastSyncConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	Threshold         int  `mapstructure:"threshold"`
	BatchSize         int  `mapstructure:"batch_size"`
	Workers           int  `mapstructure:"workers"`
	BufferSize        int  `mapstructure:"buffer_size"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
}

// ModulesConfig points at the directory of module manifests. Modules without
// a manifest file fall back to their built-in defaults.
type ModulesConfig struct {
	ManifestDir string `mapstructure:"manifest_dir"`
}

type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
}

type SchedulerConfig struct {
	TokenMetricsInterval time.Duration `mapstructure:"token_metrics_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetEnvPrefix("INDEXER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("chain.name", "kaia")
	viper.SetDefault("chain.chain_id", 8217)
	viper.SetDefault("chain.block_time", "1s")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("processor.batch_size", 100)
	viper.SetDefault("processor.workers", 5)
	viper.SetDefault("processor.fast_sync.enabled", true)
	viper.SetDefault("processor.fast_sync.threshold", 10000)
	viper.SetDefault("processor.fast_sync.batch_size", 50)
	viper.SetDefault("processor.fast_sync.workers", 20)
	viper.SetDefault("processor.fast_sync.buffer_size", 5000)
	viper.SetDefault("processor.fast_sync.requests_per_second", 50)
	viper.SetDefault("modules.manifest_dir", "manifests")
	viper.SetDefault("realtime.enabled", false)
	viper.SetDefault("realtime.url", "http://localhost:8000/api")
	viper.SetDefault("scheduler.token_metrics_interval", "5m")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
