package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Config is the demo's configuration. Precedence: built-in defaults, then
// the TOML file, then command-line flags.
type Config struct {
	// ViewerID is the user the demo sends and reads as.
	ViewerID string `toml:"viewer_id"`
	// ChannelURL is fixed across runs so the message cache stays warm.
	ChannelURL  string `toml:"channel_url"`
	ChannelName string `toml:"channel_name"`
	// Locale picks the label source, Accept-Language form or a plain tag.
	Locale string `toml:"locale"`
	// CachePath is the SQLite message cache; empty resolves under the
	// user cache dir.
	CachePath string `toml:"cache_path"`
	// PageSize is the window page size.
	PageSize int `toml:"page_size"`
	// HistorySeed is how many messages the simulated server starts with.
	HistorySeed int `toml:"history_seed"`
	// PeerSeconds is the interval between simulated peer messages while
	// chatting; 0 disables them.
	PeerSeconds int  `toml:"peer_seconds"`
	Debug       bool `toml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		ViewerID:    "you",
		ChannelURL:  "sim-demo",
		ChannelName: "demo",
		PageSize:    25,
		HistorySeed: 40,
		PeerSeconds: 8,
	}
}

// LoadConfig reads the TOML file at path over the defaults. An empty path
// tries the default location and treats a missing file as defaults; an
// explicit path must exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ViewerID == "" {
		return fmt.Errorf("viewer_id must not be empty")
	}
	if c.ChannelURL == "" {
		return fmt.Errorf("channel_url must not be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.HistorySeed < 0 || c.PeerSeconds < 0 {
		return fmt.Errorf("history_seed and peer_seconds must not be negative")
	}
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, "config.toml")
}

// resolveCachePath returns the configured cache path or the default under
// the user cache dir, creating parent directories either way.
func resolveCachePath(cfg Config) (string, error) {
	path := cfg.CachePath
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve cache dir: %w", err)
		}
		path = filepath.Join(dir, AppName, "messages.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	return path, nil
}

// loadForCommand resolves the effective config for a command: file over
// defaults, then any changed flags over the file.
func loadForCommand(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFlagOverrides copies explicitly set flags into cfg. Unset flags leave
// the file and default values alone.
func applyFlagOverrides(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("viewer") {
		cfg.ViewerID, _ = cmd.Flags().GetString("viewer")
	}
	if cmd.Flags().Changed("channel-url") {
		cfg.ChannelURL, _ = cmd.Flags().GetString("channel-url")
	}
	if cmd.Flags().Changed("channel-name") {
		cfg.ChannelName, _ = cmd.Flags().GetString("channel-name")
	}
	if cmd.Flags().Changed("locale") {
		cfg.Locale, _ = cmd.Flags().GetString("locale")
	}
	if cmd.Flags().Changed("cache") {
		cfg.CachePath, _ = cmd.Flags().GetString("cache")
	}
	if cmd.Flags().Changed("page-size") {
		cfg.PageSize, _ = cmd.Flags().GetInt("page-size")
	}
	if cmd.Flags().Changed("seed") {
		cfg.HistorySeed, _ = cmd.Flags().GetInt("seed")
	}
	if cmd.Flags().Changed("peer-seconds") {
		cfg.PeerSeconds, _ = cmd.Flags().GetInt("peer-seconds")
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug, _ = cmd.Flags().GetBool("debug")
	}
}

// addChatFlags registers the flags shared by commands that resolve a Config.
func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().String("viewer", "", "user id to chat as")
	cmd.Flags().String("channel-url", "", "channel URL")
	cmd.Flags().String("channel-name", "", "channel display name")
	cmd.Flags().String("locale", "", "label locale (e.g. es, ko-KR)")
	cmd.Flags().String("cache", "", "message cache path")
	cmd.Flags().Int("page-size", 0, "window page size")
	cmd.Flags().Int("seed", 0, "server history size")
	cmd.Flags().Int("peer-seconds", 0, "seconds between simulated peer messages")
}

// NewConfigCmd prints the effective configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadForCommand(cmd)
			if err != nil {
				return err
			}
			cachePath := cfg.CachePath
			if cachePath == "" {
				cachePath = "(default)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "viewer_id:    %s\n", cfg.ViewerID)
			fmt.Fprintf(out, "channel_url:  %s\n", cfg.ChannelURL)
			fmt.Fprintf(out, "channel_name: %s\n", cfg.ChannelName)
			fmt.Fprintf(out, "locale:       %s\n", cfg.Locale)
			fmt.Fprintf(out, "cache_path:   %s\n", cachePath)
			fmt.Fprintf(out, "page_size:    %d\n", cfg.PageSize)
			fmt.Fprintf(out, "history_seed: %d\n", cfg.HistorySeed)
			fmt.Fprintf(out, "peer_seconds: %d\n", cfg.PeerSeconds)
			fmt.Fprintf(out, "debug:        %t\n", cfg.Debug)
			return nil
		},
	}
	addChatFlags(cmd)
	return cmd
}
