package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/dialogtest/pkg/artifact"
	"github.com/haivivi/dialogtest/pkg/harness"
)

const (
	// DefaultBaseDir is the configuration directory name under $HOME.
	DefaultBaseDir = ".dialogtest"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
)

// Config is the on-disk CLI configuration: a set of named contexts and the
// name of the active one.
type Config struct {
	// CurrentContext is the name of the currently active context.
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts maps context name to configuration.
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	configPath string
}

// Context is one named environment: channel credentials plus optional
// grader and archive settings.
type Context struct {
	Name string `yaml:"name"`

	// Speech channel connection.
	SubscriptionKey          string   `yaml:"subscription_key,omitempty"`
	Region                   string   `yaml:"region,omitempty"`
	Language                 string   `yaml:"language,omitempty"`
	BotID                    string   `yaml:"bot_id,omitempty"`
	CustomSpeechEndpointID   string   `yaml:"custom_speech_endpoint_id,omitempty"`
	CustomVoiceDeploymentIDs []string `yaml:"custom_voice_deployment_ids,omitempty"`
	EndpointURL              string   `yaml:"endpoint_url,omitempty"`

	// Run defaults, overridable per test file.
	ReplyTimeout time.Duration `yaml:"reply_timeout,omitempty"`
	OutputFolder string        `yaml:"output_folder,omitempty"`

	// Grader configures semantic judging; nil disables it.
	Grader *GraderConfig `yaml:"grader,omitempty"`

	// Archive configures artifact upload after runs; nil disables it.
	Archive *ArchiveConfig `yaml:"archive,omitempty"`

	// Extra stores context settings this tool does not interpret.
	Extra map[string]string `yaml:"extra,omitempty"`
}

// GraderConfig selects and authenticates the LLM used for semantic checks.
type GraderConfig struct {
	// Provider is "openai" or "gemini".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	// BaseURL points the openai provider at a compatible gateway.
	BaseURL string `yaml:"base_url,omitempty"`
}

// ArchiveConfig is the S3-compatible bucket run artifacts are mirrored to.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
}

// S3Config converts to the artifact package's client configuration.
func (a *ArchiveConfig) S3Config() artifact.S3Config {
	return artifact.S3Config{
		Bucket:    a.Bucket,
		Prefix:    a.Prefix,
		Region:    a.Region,
		AccessKey: a.AccessKey,
		SecretKey: a.SecretKey,
		Endpoint:  a.Endpoint,
	}
}

// Settings converts the context's connection fields into run settings.
func (ctx *Context) Settings() *harness.Settings {
	return &harness.Settings{
		SubscriptionKey:          ctx.SubscriptionKey,
		Region:                   ctx.Region,
		Language:                 ctx.Language,
		BotID:                    ctx.BotID,
		CustomSpeechEndpointID:   ctx.CustomSpeechEndpointID,
		CustomVoiceDeploymentIDs: ctx.CustomVoiceDeploymentIDs,
		EndpointURL:              ctx.EndpointURL,
		ReplyTimeout:             harness.Duration(ctx.ReplyTimeout),
		OutputFolder:             ctx.OutputFolder,
	}
}

// GetExtra returns an extra value, or "" when unset.
func (ctx *Context) GetExtra(key string) string {
	if ctx.Extra == nil {
		return ""
	}
	return ctx.Extra[key]
}

// SetExtra sets an extra value.
func (ctx *Context) SetExtra(key, value string) {
	if ctx.Extra == nil {
		ctx.Extra = make(map[string]string)
	}
	ctx.Extra[key] = value
}

// LoadConfig loads the configuration from the default location, creating an
// empty one on first use.
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath("")
}

// LoadConfigWithPath loads configuration from a custom path, or the default
// location when path is empty.
func LoadConfigWithPath(customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cli: resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, DefaultBaseDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return nil, fmt.Errorf("cli: create config directory: %w", err)
	}

	cfg := &Config{
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("cli: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cli: parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	cfg.configPath = configPath
	return cfg, nil
}

// Save writes the configuration to disk. The file holds credentials, so it
// is not group or world readable.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory holding the config file.
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// HistoryDir returns the run-history database directory next to the config.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.Dir(), "history")
}

// AddContext adds or replaces a context and persists the change. The first
// context added becomes current.
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context and persists the change.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("cli: context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context and persists the change.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("cli: context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns the named context.
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("cli: context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the active context.
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("cli: no current context set, run 'dialogtest config use-context'")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the named context, or the current one when name is
// empty.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	return names
}

// MaskSecret masks a credential for display.
func MaskSecret(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
