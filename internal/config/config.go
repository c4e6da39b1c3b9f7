package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/guided-traffic/json-post-proxy/internal/access"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/spf13/viper"
)

// Content handler names
const (
	ContentReturn    = "return"
	ContentProxyPass = "proxy_pass"
	ContentS3Put     = "s3_put"
)

// S3VariablePrefix is prepended to the variables set after an s3_put upload
const S3VariablePrefix = "s3_"

// Access control types
const (
	AuthJWT   = "jwt"
	AuthBasic = "basic"
)

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// S3BackendConfig holds the object store used by s3_put locations
type S3BackendConfig struct {
	TargetEndpoint string `mapstructure:"target_endpoint"` // empty uses the AWS endpoint for the region
	Region         string `mapstructure:"region"`
	AccessKeyID    string `mapstructure:"access_key_id"`
	SecretKey      string `mapstructure:"secret_key"`
	UsePathStyle   bool   `mapstructure:"use_path_style"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: :9090)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// BodyConfig controls how request bodies are received
type BodyConfig struct {
	BufferSize  int   `mapstructure:"buffer_size"`  // bytes per read
	MaxSize     int64 `mapstructure:"max_size"`     // 0 = unlimited
	ReadTimeout int   `mapstructure:"read_timeout"` // seconds between two reads, 0 = no timeout
}

// JSONConfig limits what a decoded body may bind
type JSONConfig struct {
	MaxDepth     int `mapstructure:"max_depth"`
	MaxVariables int `mapstructure:"max_variables"`
}

// UserConfig is one basic auth account
type UserConfig struct {
	Name         string `mapstructure:"name"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
}

// AuthConfig protects a location
type AuthConfig struct {
	Type      string       `mapstructure:"type"` // "jwt" or "basic"
	JWTSecret string       `mapstructure:"jwt_secret"`
	Realm     string       `mapstructure:"realm"`
	Users     []UserConfig `mapstructure:"users"`
}

// ReturnConfig answers with a fixed status and a body template
type ReturnConfig struct {
	Status      int    `mapstructure:"status"`
	Body        string `mapstructure:"body"`
	ContentType string `mapstructure:"content_type"`
}

// S3PutConfig stores the request body as an object
type S3PutConfig struct {
	Bucket      string `mapstructure:"bucket"`
	Key         string `mapstructure:"key"` // template, e.g. orders/$json_id.json
	ContentType string `mapstructure:"content_type"`
}

// LocationConfig configures one served path
type LocationConfig struct {
	Path           string   `mapstructure:"path"`
	Methods        []string `mapstructure:"methods"`
	JSONDecode     bool     `mapstructure:"json_decode"`
	VariablePrefix string   `mapstructure:"variable_prefix"`

	Auth *AuthConfig `mapstructure:"auth"`

	// exactly one content handler
	Return         *ReturnConfig     `mapstructure:"return"`
	ProxyPass      string            `mapstructure:"proxy_pass"`
	ProxySetHeader map[string]string `mapstructure:"proxy_set_header"`
	S3Put          *S3PutConfig      `mapstructure:"s3_put"`

	LogVariables []string `mapstructure:"log_variables"`
}

// ContentHandler returns the name of the configured content handler
func (l *LocationConfig) ContentHandler() string {
	names := l.contentHandlers()
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

func (l *LocationConfig) contentHandlers() []string {
	var names []string
	if l.Return != nil {
		names = append(names, ContentReturn)
	}
	if l.ProxyPass != "" {
		names = append(names, ContentProxyPass)
	}
	if l.S3Put != nil {
		names = append(names, ContentS3Put)
	}
	return names
}

// Config holds the application configuration
type Config struct {
	// Server configuration
	BindAddress       string    `mapstructure:"bind_address"`
	LogLevel          string    `mapstructure:"log_level"`
	LogFormat         string    `mapstructure:"log_format"` // "text" (default) or "json"
	LogHealthRequests bool      `mapstructure:"log_health_requests"`
	ShutdownTimeout   int       `mapstructure:"shutdown_timeout"` // Graceful shutdown timeout in seconds
	TLS               TLSConfig `mapstructure:"tls"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	Body BodyConfig `mapstructure:"body"`
	JSON JSONConfig `mapstructure:"json"`

	S3Backend S3BackendConfig `mapstructure:"s3_backend"`

	Locations []LocationConfig `mapstructure:"locations"`

	// JSONDecodeUsed is set by Load when any location enables json_decode
	JSONDecodeUsed bool `mapstructure:"-"`
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".json-post-proxy" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".json-post-proxy")
	}

	viper.SetEnvPrefix("JPP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Locations {
		applyLocationDefaults(&cfg.Locations[i])
		if cfg.Locations[i].JSONDecode {
			cfg.JSONDecodeUsed = true
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("bind_address", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_health_requests", false)
	viper.SetDefault("shutdown_timeout", 30)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert_file", "")
	viper.SetDefault("tls.key_file", "")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	viper.SetDefault("body.buffer_size", 16*1024)
	viper.SetDefault("body.max_size", 1024*1024)
	viper.SetDefault("body.read_timeout", 60)

	viper.SetDefault("json.max_depth", 8)
	viper.SetDefault("json.max_variables", 1024)

	viper.SetDefault("s3_backend.region", "us-east-1")
	viper.SetDefault("s3_backend.use_path_style", false)
}

func applyLocationDefaults(loc *LocationConfig) {
	if loc.VariablePrefix == "" {
		loc.VariablePrefix = "json_"
	}
	for i, m := range loc.Methods {
		loc.Methods[i] = strings.ToUpper(m)
	}
	if loc.Return != nil && loc.Return.Status == 0 {
		loc.Return.Status = 200
	}
	if loc.Auth != nil && loc.Auth.Realm == "" {
		loc.Auth.Realm = "json-post-proxy"
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be 'text' or 'json', got '%s'", cfg.LogFormat)
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			return fmt.Errorf("tls.cert_file is required when TLS is enabled")
		}
		if cfg.TLS.KeyFile == "" {
			return fmt.Errorf("tls.key_file is required when TLS is enabled")
		}

		// Check if certificate files exist
		if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file does not exist: %s", cfg.TLS.CertFile)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", cfg.TLS.KeyFile)
		}
	}

	if cfg.Body.BufferSize <= 0 {
		return fmt.Errorf("body.buffer_size must be positive")
	}
	if cfg.Body.MaxSize < 0 {
		return fmt.Errorf("body.max_size must not be negative")
	}
	if cfg.Body.ReadTimeout < 0 {
		return fmt.Errorf("body.read_timeout must not be negative")
	}

	if len(cfg.Locations) == 0 {
		return fmt.Errorf("at least one location is required")
	}

	seen := make(map[string]bool, len(cfg.Locations))
	for i := range cfg.Locations {
		loc := &cfg.Locations[i]
		if err := validateLocation(cfg, loc); err != nil {
			return fmt.Errorf("location %d (%s): %w", i, loc.Path, err)
		}
		if seen[loc.Path] {
			return fmt.Errorf("location %d (%s): duplicate path", i, loc.Path)
		}
		seen[loc.Path] = true
	}

	return nil
}

func validateLocation(cfg *Config, loc *LocationConfig) error {
	if !strings.HasPrefix(loc.Path, "/") {
		return fmt.Errorf("path must start with '/'")
	}

	handlers := loc.contentHandlers()
	switch len(handlers) {
	case 0:
		return fmt.Errorf("one of return, proxy_pass or s3_put is required")
	case 1:
	default:
		return fmt.Errorf("only one content handler allowed, got %s", strings.Join(handlers, ", "))
	}

	if loc.Return != nil && (loc.Return.Status < 100 || loc.Return.Status > 599) {
		return fmt.Errorf("return.status %d is not a valid HTTP status", loc.Return.Status)
	}

	if loc.ProxyPass != "" {
		u, err := url.Parse(loc.ProxyPass)
		if err != nil {
			return fmt.Errorf("invalid proxy_pass: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("proxy_pass must be an http or https URL")
		}
		if u.Host == "" {
			return fmt.Errorf("proxy_pass has no host")
		}
	} else if len(loc.ProxySetHeader) > 0 {
		return fmt.Errorf("proxy_set_header requires proxy_pass")
	}

	if loc.S3Put != nil {
		if loc.S3Put.Bucket == "" {
			return fmt.Errorf("s3_put.bucket is required")
		}
		if loc.S3Put.Key == "" {
			return fmt.Errorf("s3_put.key is required")
		}
		if cfg.S3Backend.Region == "" {
			return fmt.Errorf("s3_backend.region is required for s3_put")
		}
		if (cfg.S3Backend.AccessKeyID == "") != (cfg.S3Backend.SecretKey == "") {
			return fmt.Errorf("s3_backend.access_key_id and s3_backend.secret_key must be set together")
		}
	}

	if loc.Auth != nil {
		switch loc.Auth.Type {
		case AuthJWT:
			if loc.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required for jwt auth")
			}
		case AuthBasic:
			if len(loc.Auth.Users) == 0 {
				return fmt.Errorf("auth.users is required for basic auth")
			}
			for j, u := range loc.Auth.Users {
				if u.Name == "" || u.PasswordHash == "" {
					return fmt.Errorf("auth.users[%d]: name and password_hash are required", j)
				}
			}
		default:
			return fmt.Errorf("unsupported auth.type '%s'", loc.Auth.Type)
		}
	}

	if loc.JSONDecode {
		if !isVariableName(loc.VariablePrefix) {
			return fmt.Errorf("variable_prefix '%s' may only contain letters, digits and '_'", loc.VariablePrefix)
		}
		if name, ok := shadowedVariable(loc.VariablePrefix); ok {
			return fmt.Errorf("variable_prefix '%s' lets request bodies set $%s", loc.VariablePrefix, name)
		}
	}

	return nil
}

// shadowedVariable reports a variable owned by another module that a body
// decoded with prefix could bind
func shadowedVariable(prefix string) (string, bool) {
	for _, reserved := range []string{access.ClaimPrefix, S3VariablePrefix} {
		if strings.HasPrefix(reserved, prefix) || strings.HasPrefix(prefix, reserved) {
			return reserved + "*", true
		}
	}
	for _, name := range append(pipeline.BuiltinNames(), access.RemoteUserVariable) {
		if strings.HasPrefix(name, prefix) {
			return name, true
		}
	}
	return "", false
}

func isVariableName(s string) bool {
	for _, c := range s {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return s != ""
}

// HasS3Locations reports whether any location stores bodies in S3
func (cfg *Config) HasS3Locations() bool {
	for i := range cfg.Locations {
		if cfg.Locations[i].S3Put != nil {
			return true
		}
	}
	return false
}
