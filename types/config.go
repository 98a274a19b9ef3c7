package types

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chorus-fed/conductor/common"
)

// Config is the enumerated tuning surface of a node. Zero values are filled
// with defaults by Normalize.
type Config struct {
	DifficultyInitial      uint64 `json:"difficulty_initial"`
	ProgressInterval       uint64 `json:"progress_interval"`
	AdjustmentIntervalDays uint32 `json:"adjustment_interval_days"`
	MinValidators          uint32 `json:"min_validators"`
	ThresholdNum           uint32 `json:"threshold_num"`
	ThresholdDen           uint32 `json:"threshold_den"`
	EpochTimeoutMs         uint32 `json:"epoch_timeout_ms"`
	SeenCacheTTLMs         uint32 `json:"seen_cache_ttl_ms"`
	CircuitBreakerMax      uint32 `json:"peer_circuit_breaker_threshold"`
	CircuitBreakerOpenMs   uint32 `json:"peer_circuit_breaker_open_ms"`
	MaxBatchEvents         uint32 `json:"max_batch_events"`
	MaxBatchBytes          uint32 `json:"max_batch_bytes"`
}

// Normalize fills unset fields with their defaults.
func (c *Config) Normalize() {
	if c.DifficultyInitial == 0 {
		c.DifficultyInitial = 86_400_000
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 1_000_000
	}
	if c.AdjustmentIntervalDays == 0 {
		c.AdjustmentIntervalDays = 10
	}
	if c.MinValidators == 0 {
		c.MinValidators = 4
	}
	if c.ThresholdNum == 0 || c.ThresholdDen == 0 {
		c.ThresholdNum, c.ThresholdDen = 2, 3
	}
	if c.EpochTimeoutMs == 0 {
		c.EpochTimeoutMs = 120_000
	}
	if c.SeenCacheTTLMs == 0 {
		c.SeenCacheTTLMs = 86_400_000
	}
	if c.CircuitBreakerMax == 0 {
		c.CircuitBreakerMax = 5
	}
	if c.CircuitBreakerOpenMs == 0 {
		c.CircuitBreakerOpenMs = 60_000
	}
	if c.MaxBatchEvents == 0 {
		c.MaxBatchEvents = 4096
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = 1 << 20
	}
}

// TinyConfig is the 4-validator test profile with a short VDF chain.
func TinyConfig() Config {
	c := Config{
		DifficultyInitial: 1_000,
		ProgressInterval:  100,
		EpochTimeoutMs:    5_000,
	}
	c.Normalize()
	return c
}

// SmallConfig is the 7-validator test profile.
func SmallConfig() Config {
	c := Config{
		DifficultyInitial: 10_000,
		ProgressInterval:  1_000,
		MinValidators:     7,
		EpochTimeoutMs:    10_000,
	}
	c.Normalize()
	return c
}

// DefaultConfig is the production profile.
func DefaultConfig() Config {
	var c Config
	c.Normalize()
	return c
}

// ValidatorSpec is one roster entry in the chain spec.
type ValidatorSpec struct {
	Ed25519Key string `json:"ed25519"`
	ShareIndex uint32 `json:"share_index"`
}

// ChainSpec fixes the genesis parameters of a federation.
type ChainSpec struct {
	Name        string          `json:"name"`
	GenesisSeed string          `json:"genesis_seed"`
	Validators  []ValidatorSpec `json:"validators"`
	Config      Config          `json:"config"`
}

// LoadChainSpec reads and validates a chain spec file.
func LoadChainSpec(path string) (*ChainSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain spec: %w", err)
	}
	var spec ChainSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse chain spec: %w", err)
	}
	spec.Config.Normalize()
	if len(spec.Validators) < int(spec.Config.MinValidators) {
		return nil, fmt.Errorf("chain spec has %d validators, need at least %d",
			len(spec.Validators), spec.Config.MinValidators)
	}
	return &spec, nil
}

// GenesisSeedBytes returns the genesis seed as bytes.
func (s *ChainSpec) GenesisSeedBytes() []byte {
	return []byte(s.GenesisSeed)
}

// ValidatorSet builds the day-0 validator set from the roster.
func (s *ChainSpec) ValidatorSet() (*ValidatorSet, error) {
	members := make([]Validator, 0, len(s.Validators))
	for _, v := range s.Validators {
		key := common.Hex2Bytes(v.Ed25519Key)
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid ed25519 key %q", v.Ed25519Key)
		}
		members = append(members, NewValidator(key, v.ShareIndex))
	}
	return NewValidatorSet(0, members), nil
}
