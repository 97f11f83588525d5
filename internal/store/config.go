package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Product struct {
		ID      string `yaml:"id"`
		RESTURL string `yaml:"rest_url"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"product"`
	Window struct {
		BarIntervalSeconds    int `yaml:"bar_interval_seconds"`
		PrimaryHours          int `yaml:"primary_hours"`
		DeviationHistoryHours int `yaml:"deviation_history_hours"`
	} `yaml:"window"`
	Strategy struct {
		Short1Pct     float64 `yaml:"short1_pct"`
		Short2Pct     float64 `yaml:"short2_pct"`
		Long1Pct      float64 `yaml:"long1_pct"`
		Long2Pct      float64 `yaml:"long2_pct"`
		TakeProfitPct float64 `yaml:"take_profit_pct"`
		ShortStopPct  float64 `yaml:"short_stop_pct"`
		LongStopPct   float64 `yaml:"long_stop_pct"`
		NeutralMinPct float64 `yaml:"neutral_min_pct"`
		NeutralMaxPct float64 `yaml:"neutral_max_pct"`
	} `yaml:"strategy"`
	Ledger struct {
		StartingCash float64 `yaml:"starting_cash"`
		ContractSize float64 `yaml:"contract_size"`
		FeeRate      float64 `yaml:"fee_rate"`
		SlippageRate float64 `yaml:"slippage_rate"`
	} `yaml:"ledger"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	PollSeconds  int `yaml:"poll_seconds"`
	PruneSeconds int `yaml:"prune_seconds"`
}

func (c *Config) Validate() error {
	if c.Product.ID == "" {
		return fmt.Errorf("product.id cannot be empty")
	}
	if c.Window.BarIntervalSeconds <= 0 {
		return fmt.Errorf("window.bar_interval_seconds must be positive, got %d", c.Window.BarIntervalSeconds)
	}
	if c.Window.PrimaryHours <= 0 {
		return fmt.Errorf("window.primary_hours must be positive, got %d", c.Window.PrimaryHours)
	}
	if c.Window.DeviationHistoryHours < c.Window.PrimaryHours {
		return fmt.Errorf("window.deviation_history_hours (%d) must be >= window.primary_hours (%d)",
			c.Window.DeviationHistoryHours, c.Window.PrimaryHours)
	}
	if c.Ledger.FeeRate < 0 || c.Ledger.FeeRate >= 1 {
		return fmt.Errorf("ledger.fee_rate must be in [0,1), got %f", c.Ledger.FeeRate)
	}
	if c.Ledger.SlippageRate < 0 || c.Ledger.SlippageRate >= 1 {
		return fmt.Errorf("ledger.slippage_rate must be in [0,1), got %f", c.Ledger.SlippageRate)
	}
	if c.Strategy.NeutralMinPct >= c.Strategy.NeutralMaxPct {
		return fmt.Errorf("strategy.neutral_min_pct (%f) must be below strategy.neutral_max_pct (%f)",
			c.Strategy.NeutralMinPct, c.Strategy.NeutralMaxPct)
	}
	return nil
}

// applyDefaults fills every unset field with the documented default.
func (c *Config) applyDefaults() {
	if c.Product.ID == "" {
		c.Product.ID = "BTC-USD"
	}
	if c.Product.RESTURL == "" {
		c.Product.RESTURL = "https://api.exchange.coinbase.com"
	}
	if c.Product.WSURL == "" {
		c.Product.WSURL = "wss://ws-feed.exchange.coinbase.com"
	}
	if c.Window.BarIntervalSeconds == 0 {
		c.Window.BarIntervalSeconds = 300
	}
	if c.Window.PrimaryHours == 0 {
		c.Window.PrimaryHours = 12
	}
	if c.Window.DeviationHistoryHours == 0 {
		c.Window.DeviationHistoryHours = 72
	}
	if c.Strategy.Short1Pct == 0 {
		c.Strategy.Short1Pct = 0.6
	}
	if c.Strategy.Short2Pct == 0 {
		c.Strategy.Short2Pct = 0.75
	}
	if c.Strategy.Long1Pct == 0 {
		c.Strategy.Long1Pct = -0.75
	}
	if c.Strategy.Long2Pct == 0 {
		c.Strategy.Long2Pct = -0.9
	}
	if c.Strategy.TakeProfitPct == 0 {
		c.Strategy.TakeProfitPct = 0.1
	}
	if c.Strategy.ShortStopPct == 0 {
		c.Strategy.ShortStopPct = 2.25
	}
	if c.Strategy.LongStopPct == 0 {
		c.Strategy.LongStopPct = -2.4
	}
	if c.Strategy.NeutralMinPct == 0 {
		c.Strategy.NeutralMinPct = -0.75
	}
	if c.Strategy.NeutralMaxPct == 0 {
		c.Strategy.NeutralMaxPct = 0.6
	}
	if c.Ledger.StartingCash == 0 {
		c.Ledger.StartingCash = 10000
	}
	if c.Ledger.ContractSize == 0 {
		c.Ledger.ContractSize = 0.01
	}
	if c.Ledger.FeeRate == 0 {
		c.Ledger.FeeRate = 0.00065
	}
	if c.Ledger.SlippageRate == 0 {
		c.Ledger.SlippageRate = 0.0005
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 15
	}
	if c.PruneSeconds == 0 {
		c.PruneSeconds = 60
	}
}

// Default returns a fully defaulted configuration, used when no
// config.yaml is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
