package config

import (
	"time"

	"github.com/Shugur-Network/proxypool/internal/relaypool"
)

// DefaultSourceKey is the pool used when a request names no source.
const DefaultSourceKey = relaypool.DefaultSource

// PoolsConfig declares the sources and their eligibility policies.
//
// Source keys are case-insensitive in the config file and always used in
// lowercase.
type PoolsConfig struct {
	InitialList string                  `mapstructure:"INITIAL_LIST" json:"initial_list"`
	Default     PolicyConfig            `mapstructure:"DEFAULT"      json:"default"      validate:"required"`
	Sources     map[string]PolicyConfig `mapstructure:"SOURCES"      json:"sources"      validate:"omitempty,dive,keys,source_key,endkeys"`
}

// PolicyConfig is one pool's policy. In Sources, zero fields inherit from
// Default.
type PolicyConfig struct {
	DefaultCooldown time.Duration `mapstructure:"DEFAULT_COOLDOWN" json:"default_cooldown" validate:"omitempty,reasonable_duration"`
	FailureCooldown time.Duration `mapstructure:"FAILURE_COOLDOWN" json:"failure_cooldown" validate:"omitempty,reasonable_duration"`
	FailureLimit    int           `mapstructure:"FAILURE_LIMIT"    json:"failure_limit"    validate:"omitempty,min=1,max=1000"`
}

// Policies resolves the effective policy of every source, the default pool
// included.
func (c PoolsConfig) Policies() map[string]relaypool.Policy {
	base := c.Default.policy(relaypool.DefaultPolicy())
	out := make(map[string]relaypool.Policy, len(c.Sources)+1)
	out[DefaultSourceKey] = base
	for source, p := range c.Sources {
		out[source] = p.policy(base)
	}
	return out
}

func (p PolicyConfig) policy(base relaypool.Policy) relaypool.Policy {
	if p.DefaultCooldown > 0 {
		base.DefaultCooldown = p.DefaultCooldown
	}
	if p.FailureCooldown > 0 {
		base.FailureCooldown = p.FailureCooldown
	}
	if p.FailureLimit > 0 {
		base.FailureLimit = p.FailureLimit
	}
	return base
}
