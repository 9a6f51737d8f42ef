package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// PerfConfig sizes the decode pool and the ordered queue.
type PerfConfig struct {
	WorkerAmount      int `json:"workerAmount"`
	MaxMsgsInFlight   int `json:"maxMsgsInFlight"`
	ConcurrencyAmount int `json:"concurrencyAmount"`
}

// ElasticConfig is opaque to the core pipeline; the real document-store
// client it describes is an external collaborator (spec §1 Non-goals)
// and is not wired into this module. It is kept here so a future
// production sink can be configured the same way the local ones are.
type ElasticConfig struct {
	Endpoint string `json:"endpoint"`
	Index    string `json:"index"`
	APIKey   string `json:"apiKey"`
}

// SinkConfig selects and configures one of the two local ConsumerSink
// backends this module ships.
type SinkConfig struct {
	Backend string `json:"backend"` // "bolt" (default) or "leveldb"
	Path    string `json:"path"`
}

// BroadcastConfig configures the live-head websocket server.
type BroadcastConfig struct {
	WSHost string `json:"wsHost"`
	WSPort int    `json:"wsPort"`
}

// Config is the root configuration for the indexing pipeline, per the
// external interfaces enumerated for the reader, assembler, and sink.
type Config struct {
	Endpoint   string `json:"endpoint"`
	WSEndpoint string `json:"wsEndpoint"`
	ChainName  string `json:"chainName"`
	ChainID    int    `json:"chainId"`

	StartBlock uint32 `json:"startBlock"`
	StopBlock  uint32 `json:"stopBlock"`

	Perf      PerfConfig      `json:"perf"`
	Elastic   ElasticConfig   `json:"elastic"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Sink      SinkConfig      `json:"sink"`

	ReconnectDelaySeconds int `json:"reconnectDelaySeconds"`
	MinBlockConfirmation  int `json:"minBlockConfirmation"`

	AllowEmptyBlock  bool `json:"allowEmptyBlock"`
	AllowEmptyTraces bool `json:"allowEmptyTraces"`
	AllowEmptyDeltas bool `json:"allowEmptyDeltas"`

	Debug bool `json:"debug"`
}

// Load reads and validates a JSON configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file (%s): %w", path, err)
	}

	cfg := Default()

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("could not parse config file (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns a configuration with every field the pipeline can
// safely default set, leaving endpoints and chain identity to the
// caller-provided file.
func Default() Config {
	return Config{
		StopBlock: math.MaxUint32,
		Perf: PerfConfig{
			WorkerAmount:      4,
			MaxMsgsInFlight:   50,
			ConcurrencyAmount: 8,
		},
		Sink: SinkConfig{
			Backend: "bolt",
			Path:    "./data/evmship.db",
		},
		ReconnectDelaySeconds: 5,
		MinBlockConfirmation:  1,
	}
}

func (c Config) Validate() error {
	if c.WSEndpoint == "" {
		return fmt.Errorf("wsEndpoint must be set")
	}

	if c.StopBlock <= c.StartBlock {
		return fmt.Errorf("stopBlock (%d) must be greater than startBlock (%d)", c.StopBlock, c.StartBlock)
	}

	if c.Perf.MaxMsgsInFlight <= 0 {
		return fmt.Errorf("perf.maxMsgsInFlight must be positive")
	}

	if c.Perf.ConcurrencyAmount <= 0 {
		return fmt.Errorf("perf.concurrencyAmount must be positive")
	}

	return nil
}
