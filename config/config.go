package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Strategy identifiers.
const (
	StrategyS1 = "s1" // daily breakout
	StrategyS2 = "s2" // hourly momentum
	StrategyS3 = "s3" // 15m momentum
	StrategyS4 = "s4" // SNR echo
	StrategyS5 = "s5" // screener regime
	StrategyS6 = "s6" // RSI reversal
	StrategyS7 = "s7" // multi-timeframe consensus
)

// Contract modes.
const (
	ContractRiseFall   = "rise_fall"
	ContractMultiplier = "multiplier"
)

// Entry trigger modes.
const (
	EntryTick        = "tick"
	EntryCandleClose = "candle_close"
)

// Expiry styles resolved by execution.
const (
	ExpiryEOD     = "eod"      // seconds to UTC midnight
	ExpiryNextHTF = "next_htf" // seconds to the next HTF boundary
	ExpiryDynamic = "dynamic"  // screener-computed expiry
	ExpiryCustom  = "custom"   // operator custom_expiry
)

// Config is the full recognized option set. Unknown keys in the file or an
// update payload are ignored.
type Config struct {
	APIToken string   `json:"api_token" mapstructure:"api_token"`
	AppID    string   `json:"app_id" mapstructure:"app_id"`
	Symbols  []string `json:"symbols" mapstructure:"symbols"`
	IsDemo   bool     `json:"is_demo" mapstructure:"is_demo"`

	ActiveStrategy  string `json:"active_strategy" mapstructure:"active_strategy"`
	ContractType    string `json:"contract_type" mapstructure:"contract_type"`
	MultiplierValue int    `json:"multiplier_value" mapstructure:"multiplier_value"`
	CustomExpiry    int64  `json:"custom_expiry" mapstructure:"custom_expiry"`
	EntryType       string `json:"entry_type" mapstructure:"entry_type"`

	BalanceValue    float64 `json:"balance_value" mapstructure:"balance_value"`
	UseFixedBalance bool    `json:"use_fixed_balance" mapstructure:"use_fixed_balance"`

	MaxDailyLossPct   float64 `json:"max_daily_loss_pct" mapstructure:"max_daily_loss_pct"`
	MaxDailyProfitPct float64 `json:"max_daily_profit_pct" mapstructure:"max_daily_profit_pct"`

	TPEnabled           bool    `json:"tp_enabled" mapstructure:"tp_enabled"`
	TPValue             float64 `json:"tp_value" mapstructure:"tp_value"`
	SLEnabled           bool    `json:"sl_enabled" mapstructure:"sl_enabled"`
	SLValue             float64 `json:"sl_value" mapstructure:"sl_value"`
	BinaryTPSLBufferPct float64 `json:"binary_tpsl_buffer_pct" mapstructure:"binary_tpsl_buffer_pct"`

	ForceCloseEnabled  bool  `json:"force_close_enabled" mapstructure:"force_close_enabled"`
	ForceCloseDuration int64 `json:"force_close_duration" mapstructure:"force_close_duration"`

	LogLevel string `json:"log_level" mapstructure:"log_level"`

	Strat7SmallTF string `json:"strat7_small_tf" mapstructure:"strat7_small_tf"`
	Strat7MidTF   string `json:"strat7_mid_tf" mapstructure:"strat7_mid_tf"`
	Strat7HighTF  string `json:"strat7_high_tf" mapstructure:"strat7_high_tf"`
}

// Server holds the HTTP surface settings. Environment-only; never part of
// the updatable option set.
type Server struct {
	Port      string
	AuthToken string
}

// Store wraps the active Config with atomic replacement semantics.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

func defaults() Config {
	return Config{
		AppID:               "1089",
		Symbols:             []string{"R_100"},
		IsDemo:              true,
		ActiveStrategy:      StrategyS1,
		ContractType:        ContractRiseFall,
		MultiplierValue:     100,
		EntryType:           EntryCandleClose,
		BalanceValue:        1.0,
		UseFixedBalance:     true,
		MaxDailyLossPct:     5,
		MaxDailyProfitPct:   10,
		TPValue:             1.0,
		SLValue:             1.0,
		BinaryTPSLBufferPct: 1.0,
		ForceCloseDuration:  300,
		LogLevel:            "INFO",
		Strat7SmallTF:       "1m",
		Strat7MidTF:         "15m",
		Strat7HighTF:        "1h",
	}
}

// Load reads the config file (JSON) and applies environment overrides. A
// missing file is not an error; defaults plus environment apply.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	def := defaults()
	defMap, err := toMap(def)
	if err != nil {
		return nil, err
	}
	for key, val := range defMap {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				if _, pathErr := err.(*os.PathError); !pathErr {
					return nil, fmt.Errorf("config: read %s: %w", path, err)
				}
			}
		}
	}

	v.BindEnv("api_token", "DERIV_API_TOKEN")
	v.BindEnv("app_id", "DERIV_APP_ID")
	v.BindEnv("log_level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	normalize(&cfg)

	return &Store{cfg: cfg, path: path}, nil
}

// NewStore wraps an in-memory config, used by tests and tools.
func NewStore(cfg Config) *Store {
	normalize(&cfg)
	return &Store{cfg: cfg}
}

// Defaults returns the built-in option values.
func Defaults() Config { return defaults() }

// ServerFromEnv reads the HTTP settings.
func ServerFromEnv() Server {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return Server{Port: port, AuthToken: os.Getenv("API_AUTH_TOKEN")}
}

func normalize(cfg *Config) {
	cfg.ActiveStrategy = strings.ToLower(cfg.ActiveStrategy)
	if _, ok := profiles[cfg.ActiveStrategy]; !ok {
		cfg.ActiveStrategy = StrategyS1
	}
	if cfg.ContractType != ContractMultiplier {
		cfg.ContractType = ContractRiseFall
	}
	if cfg.EntryType != EntryTick {
		cfg.EntryType = EntryCandleClose
	}
	if cfg.BinaryTPSLBufferPct <= 0 {
		cfg.BinaryTPSLBufferPct = 1.0
	}
}

// Get returns a copy of the active configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Symbols = append([]string(nil), s.cfg.Symbols...)
	return cfg
}

// updatableKeys is the whitelist for ApplyUpdate, keyed by json name.
var updatableKeys = map[string]bool{
	"api_token": true, "app_id": true, "symbols": true, "is_demo": true,
	"active_strategy": true, "contract_type": true, "multiplier_value": true,
	"custom_expiry": true, "entry_type": true, "balance_value": true,
	"use_fixed_balance": true, "max_daily_loss_pct": true,
	"max_daily_profit_pct": true, "tp_enabled": true, "tp_value": true,
	"sl_enabled": true, "sl_value": true, "binary_tpsl_buffer_pct": true,
	"force_close_enabled": true, "force_close_duration": true,
	"log_level": true, "strat7_small_tf": true, "strat7_mid_tf": true,
	"strat7_high_tf": true,
}

// ApplyUpdate merges a partial update into the active config and reports
// which keys actually changed value. Keys outside the whitelist are ignored.
// A deep-equal update returns an empty change list and has no side effects.
func (s *Store) ApplyUpdate(updates map[string]interface{}) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := toMap(s.cfg)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(before))
	for k, v := range before {
		merged[k] = v
	}
	for key, val := range updates {
		if updatableKeys[key] {
			merged[key] = val
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: merge: %w", err)
	}
	var next Config
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("config: invalid update: %w", err)
	}
	normalize(&next)

	after, err := toMap(next)
	if err != nil {
		return nil, err
	}
	var changed []string
	for key := range updatableKeys {
		if !reflect.DeepEqual(before[key], after[key]) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)

	if len(changed) > 0 {
		s.cfg = next
	}
	return changed, nil
}

// Save writes the active config back to its file.
func (s *Store) Save() error {
	s.mu.RLock()
	cfg := s.cfg
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, raw, 0644)
}

func toMap(cfg Config) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return m, nil
}

// ============================================================================
// STRATEGY PROFILES
// ============================================================================

// GranCount pairs a granularity with a history depth.
type GranCount struct {
	Granularity int64
	Count       int
}

// StrategyProfile describes the timeframes and history a strategy needs.
type StrategyProfile struct {
	LTF          int64
	HTF          int64
	ExpiryStyle  string
	HistoryCount int // candles fetched for the HTF series
	Extra        []GranCount
}

var s5Extra = []GranCount{
	{60, 100}, {300, 100}, {900, 200}, {3600, 200}, {86400, 50},
}

var s6Extra = []GranCount{
	{60, 100}, {900, 200}, {3600, 200}, {86400, 50},
}

var profiles = map[string]StrategyProfile{
	StrategyS1: {LTF: 900, HTF: 86400, ExpiryStyle: ExpiryEOD, HistoryCount: 2},
	StrategyS2: {LTF: 180, HTF: 3600, ExpiryStyle: ExpiryNextHTF, HistoryCount: 2},
	StrategyS3: {LTF: 60, HTF: 900, ExpiryStyle: ExpiryNextHTF, HistoryCount: 2},
	StrategyS4: {LTF: 60, HTF: 300, ExpiryStyle: ExpiryDynamic, HistoryCount: 200},
	StrategyS5: {LTF: 60, HTF: 3600, ExpiryStyle: ExpiryDynamic, HistoryCount: 200, Extra: s5Extra},
	StrategyS6: {LTF: 60, HTF: 3600, ExpiryStyle: ExpiryDynamic, HistoryCount: 200, Extra: s6Extra},
	StrategyS7: {LTF: 60, HTF: 3600, ExpiryStyle: ExpiryCustom, HistoryCount: 200},
}

// tfSeconds maps operator timeframe labels to granularities.
var tfSeconds = map[string]int64{
	"1m": 60, "3m": 180, "5m": 300, "15m": 900,
	"1h": 3600, "4h": 14400, "1d": 86400,
}

// TFSeconds resolves a timeframe label. "OFF" and empty disable the
// timeframe and resolve to 0; unknown labels fall back to 1m.
func TFSeconds(label string) int64 {
	label = strings.ToLower(label)
	if label == "" || label == "off" {
		return 0
	}
	if g, ok := tfSeconds[label]; ok {
		return g
	}
	return 60
}

// Profile resolves the active strategy's timeframes. For s7 the operator's
// configured timeframes override the defaults and each becomes a fetched
// series.
func (c Config) Profile() StrategyProfile {
	p := profiles[c.ActiveStrategy]
	if c.ActiveStrategy == StrategyS7 {
		// OFF timeframes are excluded outright; with all three OFF the
		// defaults stand and the screener produces no verdict.
		var active []int64
		for _, label := range []string{c.Strat7SmallTF, c.Strat7MidTF, c.Strat7HighTF} {
			if g := TFSeconds(label); g > 0 {
				active = append(active, g)
			}
		}
		if len(active) > 0 {
			p.LTF = active[0]
			p.HTF = active[len(active)-1]
			p.Extra = make([]GranCount, 0, len(active))
			for _, g := range active {
				p.Extra = append(p.Extra, GranCount{g, 200})
			}
		}
		if c.CustomExpiry <= 0 {
			p.ExpiryStyle = ExpiryDynamic
		}
	}
	if c.CustomExpiry > 0 && c.ActiveStrategy != StrategyS1 {
		p.ExpiryStyle = ExpiryCustom
	}
	return p
}
