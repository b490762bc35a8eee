package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/omniql-engine/pipeql/engine/cache"
	"github.com/omniql-engine/pipeql/engine/schema"
	"github.com/omniql-engine/pipeql/engine/translator"
	"github.com/omniql-engine/pipeql/mapping"
)

const (
	maxWalkDepth = 25
	envPrefix    = "PIPEQL"
)

var configNames = []string{"pipeql.yaml", "pipeql.yml"}

// Config represents the pipeql configuration from pipeql.yaml.
type Config struct {
	Compiler CompilerConfig `mapstructure:"compiler" json:"compiler"`
	Mongo    MongoConfig    `mapstructure:"mongo" json:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis" json:"redis"`
}

// CompilerConfig tunes casting and compilation.
type CompilerConfig struct {
	MaxDepth         int    `mapstructure:"max_depth" json:"max_depth"`
	IndexToken       string `mapstructure:"index_token" json:"index_token"`
	MaxUnionBranches int    `mapstructure:"max_union_branches" json:"max_union_branches"`
	TimeZone         string `mapstructure:"time_zone" json:"time_zone"`
	CollectionNaming string `mapstructure:"collection_naming" json:"collection_naming"`
}

// MongoConfig holds database connection settings.
type MongoConfig struct {
	URI      string        `mapstructure:"uri" json:"uri"`
	Database string        `mapstructure:"database" json:"database"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// RedisConfig holds pipeline cache settings. An empty Addr disables the
// cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db" json:"db"`
	Prefix   string        `mapstructure:"prefix" json:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	defaults := translator.DefaultOptions()

	v.SetDefault("compiler.max_depth", schema.DefaultMaxDepth)
	v.SetDefault("compiler.index_token", defaults.IndexToken)
	v.SetDefault("compiler.max_union_branches", defaults.MaxUnionBranches)
	v.SetDefault("compiler.time_zone", "")
	v.SetDefault("compiler.collection_naming", defaults.CollectionNaming)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "")
	v.SetDefault("mongo.timeout", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", cache.DefaultPrefix)
	v.SetDefault("redis.ttl", cache.DefaultTTL)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for pipeql.yaml or pipeql.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// Validate rejects settings the compiler would refuse later.
func (c *Config) Validate() error {
	if c.Compiler.MaxDepth < 1 {
		return fmt.Errorf("compiler.max_depth must be positive, got %d", c.Compiler.MaxDepth)
	}
	if c.Compiler.MaxUnionBranches < 1 {
		return fmt.Errorf("compiler.max_union_branches must be positive, got %d", c.Compiler.MaxUnionBranches)
	}
	if c.Compiler.IndexToken == "" {
		return fmt.Errorf("compiler.index_token must not be empty")
	}
	if !mapping.IsSupportedNaming(c.Compiler.CollectionNaming) {
		return fmt.Errorf("compiler.collection_naming %q is not one of %v",
			c.Compiler.CollectionNaming, mapping.CollectionNamingRules)
	}
	if c.Mongo.Timeout < 0 {
		return fmt.Errorf("mongo.timeout must not be negative")
	}
	return nil
}

// CompilerOptions maps the compiler section onto translator options.
func (c *Config) CompilerOptions() translator.Options {
	return translator.Options{
		IndexToken:       c.Compiler.IndexToken,
		MaxUnionBranches: c.Compiler.MaxUnionBranches,
		TimeZone:         c.Compiler.TimeZone,
		CollectionNaming: c.Compiler.CollectionNaming,
	}
}

// Registry builds a schema registry honoring compiler.max_depth.
func (c *Config) Registry() *schema.Registry {
	return schema.NewRegistry(schema.WithMaxDepth(c.Compiler.MaxDepth))
}

// RedisOptions returns client options for the pipeline cache, or nil when
// no address is configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// CacheOptions returns the cache settings.
func (c *Config) CacheOptions() []cache.Option {
	return []cache.Option{cache.WithPrefix(c.Redis.Prefix), cache.WithTTL(c.Redis.TTL)}
}
