// Package config loads the node configuration from a YAML file layered
// over built-in defaults. Every knob has a default; an empty file is a
// valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meshpaymvp/internal/fees"
)

// Duration is a time.Duration that unmarshals from YAML strings like "3s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type DedupConfig struct {
	Window    Duration `yaml:"window"`
	Retention Duration `yaml:"retention"`
}

type RelayConfig struct {
	BaseDelay     Duration `yaml:"base_delay"`
	Jitter        Duration `yaml:"jitter"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
	RetryOnFailed bool     `yaml:"retry_on_failed"`
}

type BalanceConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"`
}

type GossipConfig struct {
	Interval Duration `yaml:"interval"`
}

type FeesConfig struct {
	BroadcasterBps int64 `yaml:"broadcaster_bps"`
	RelayerBps     int64 `yaml:"relayer_bps"`
	ProtocolBps    int64 `yaml:"protocol_bps"`
}

func (f FeesConfig) Table() fees.Table {
	return fees.Table{
		BroadcasterBps: f.BroadcasterBps,
		RelayerBps:     f.RelayerBps,
		ProtocolBps:    f.ProtocolBps,
	}
}

type PaymentsConfig struct {
	// MatchOldestPending resolves a confirmation against the oldest
	// pending payment when no fingerprint matches. Off by default;
	// exists for peers that rewrite payloads in flight.
	MatchOldestPending bool `yaml:"match_oldest_pending"`
}

type LedgerConfig struct {
	HorizonURL string   `yaml:"horizon_url"`
	Timeout    Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	SnapshotPath     string   `yaml:"snapshot_path"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

type Config struct {
	NodeID     string `yaml:"node_id"`
	Account    string `yaml:"account"`
	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`

	Dedup    DedupConfig    `yaml:"dedup"`
	Relay    RelayConfig    `yaml:"relay"`
	Balance  BalanceConfig  `yaml:"balance"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Fees     FeesConfig     `yaml:"fees"`
	Payments PaymentsConfig `yaml:"payments"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

func Default() Config {
	table := fees.DefaultTable()
	return Config{
		DataDir:    defaultDataDir(),
		ListenAddr: "0.0.0.0:4747",
		Dedup: DedupConfig{
			Window:    Duration(60 * time.Second),
			Retention: Duration(120 * time.Second),
		},
		Relay: RelayConfig{
			BaseDelay:     Duration(3 * time.Second),
			Jitter:        Duration(time.Second),
			SubmitTimeout: Duration(30 * time.Second),
			RetryOnFailed: false,
		},
		Balance: BalanceConfig{
			RequestTimeout: Duration(8 * time.Second),
		},
		Gossip: GossipConfig{
			Interval: Duration(15 * time.Second),
		},
		Fees: FeesConfig{
			BroadcasterBps: table.BroadcasterBps,
			RelayerBps:     table.RelayerBps,
			ProtocolBps:    table.ProtocolBps,
		},
		Ledger: LedgerConfig{
			Timeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			SnapshotInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads path and layers it over Default. A missing path is not an
// error when it was never set explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as defaults.
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func (c Config) Validate() error {
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be positive")
	}
	if c.Dedup.Retention < c.Dedup.Window {
		return fmt.Errorf("dedup.retention must be at least dedup.window")
	}
	if c.Relay.BaseDelay <= 0 {
		return fmt.Errorf("relay.base_delay must be positive")
	}
	if c.Relay.Jitter < 0 {
		return fmt.Errorf("relay.jitter must not be negative")
	}
	if c.Balance.RequestTimeout <= 0 {
		return fmt.Errorf("balance.request_timeout must be positive")
	}
	if c.Gossip.Interval <= 0 {
		return fmt.Errorf("gossip.interval must be positive")
	}
	if err := c.Fees.Table().Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".meshpay"
	}
	return home + "/.meshpay"
}
