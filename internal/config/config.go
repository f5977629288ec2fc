package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds application configuration values, layered from defaults, an
// optional YAML file, HARVEST_* environment variables, and CLI flags.
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// Paths
	CacheDir   string
	OutputDir  string
	SchemaPath string

	// Browser
	UserAgent  string
	Proxy      string
	ChromePath string
	Headless   bool
	NavTimeout time.Duration
	RunTimeout time.Duration

	// Pacing
	RateRPS   float64
	RateBurst int
	JitterMin time.Duration
	JitterMax time.Duration

	HTTPTimeout time.Duration

	// Per-shop settings keyed by shop name.
	Shops map[string]ShopConfig
}

// ShopConfig is the per-shop configuration, resolved once at startup.
// Adapters read their URL/login overrides from here instead of looking up
// dynamically-constructed keys at runtime.
type ShopConfig struct {
	Name       string `mapstructure:"name"`
	BranchName string `mapstructure:"branch_name"`

	// URL templates with {order_id} / {item_id} placeholders; empty means
	// use the adapter's built-in templates.
	OrderListURL     string `mapstructure:"order_list_url"`
	OrderURLTemplate string `mapstructure:"order_url"`
	ItemURLTemplate  string `mapstructure:"item_url"`
	LoginURLPattern  string `mapstructure:"login_url_pattern"`

	// CredentialsKey selects the keyring entry; defaults to the shop name.
	CredentialsKey string `mapstructure:"credentials_key"`
	ManualLogin    bool   `mapstructure:"manual_login"`

	OrderAllow []string `mapstructure:"order_allow"`
	OrderSkip  []string `mapstructure:"order_skip"`
	OrderMax   int      `mapstructure:"order_max"`

	UseCachedOrderList bool `mapstructure:"use_cached_order_list"`
	KeepBrowser        bool `mapstructure:"keep_browser"`
}

// Load builds a Config by combining defaults, an optional config file,
// environment variables, and CLI flags. Caller should pass the command so
// flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		} else {
			v.SetConfigName("harvest")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
			v.AddConfigPath("$HOME/.harvest")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
		bindFlags(v, cmd)
	}

	cfg := &Config{
		LogLevel:    v.GetString("log_level"),
		JSONLog:     v.GetBool("json_log"),
		CacheDir:    v.GetString("cache_dir"),
		OutputDir:   v.GetString("output_dir"),
		SchemaPath:  v.GetString("schema_path"),
		UserAgent:   v.GetString("user_agent"),
		Proxy:       v.GetString("proxy"),
		ChromePath:  v.GetString("chrome_path"),
		Headless:    v.GetBool("headless"),
		NavTimeout:  v.GetDuration("nav_timeout"),
		RunTimeout:  v.GetDuration("run_timeout"),
		RateRPS:     v.GetFloat64("rate_rps"),
		RateBurst:   v.GetInt("rate_burst"),
		JitterMin:   v.GetDuration("jitter_min"),
		JitterMax:   v.GetDuration("jitter_max"),
		HTTPTimeout: v.GetDuration("http_timeout"),
	}
	if err := v.UnmarshalKey("shops", &cfg.Shops); err != nil {
		return nil, fmt.Errorf("invalid shops config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Shop resolves the configuration for one shop, returning a zero-value
// section (with the name filled in) when the file does not mention it.
func (c *Config) Shop(name string) ShopConfig {
	shop := c.Shops[name]
	if shop.Name == "" {
		shop.Name = name
	}
	if shop.CredentialsKey == "" {
		shop.CredentialsKey = shop.Name
	}
	return shop
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("json_log", DefaultJSONLog)
	v.SetDefault("cache_dir", DefaultCacheDir)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("schema_path", "")
	v.SetDefault("user_agent", "")
	v.SetDefault("proxy", "")
	v.SetDefault("chrome_path", "")
	v.SetDefault("headless", DefaultHeadless)
	v.SetDefault("nav_timeout", DefaultNavTimeout)
	v.SetDefault("run_timeout", DefaultRunTimeout)
	v.SetDefault("rate_rps", DefaultRateRPS)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("jitter_min", DefaultJitterMin)
	v.SetDefault("jitter_max", DefaultJitterMax)
	v.SetDefault("http_timeout", DefaultHTTPTimeout)
}

// bindFlags maps CLI flags onto viper keys; a flag the user set wins over
// file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"json":       "json_log",
		"cache-dir":  "cache_dir",
		"output-dir": "output_dir",
		"schema":     "schema_path",
		"user-agent": "user_agent",
		"proxy":      "proxy",
		"headless":   "headless",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			v.BindPFlag(key, f)
		}
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Value.String() == "true" {
		v.Set("log_level", "debug")
	}
	if f := cmd.Flags().Lookup("quiet"); f != nil && f.Value.String() == "true" {
		v.Set("log_level", "error")
	}
}
