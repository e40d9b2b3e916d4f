package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fleetwarden/internal/health"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/warmup"
)

// Policy is the tunable behaviour of the engine. Every value has a default;
// the policy file only needs the keys it overrides.
type Policy struct {
	Health    health.Policy    `yaml:"health"`
	RateLimit ratelimit.Policy `yaml:"rate_limit"`
	Warmup    warmup.Policy    `yaml:"warmup"`
}

func DefaultPolicy() Policy {
	return Policy{
		Health:    health.DefaultPolicy(),
		RateLimit: ratelimit.DefaultPolicy(),
		Warmup:    warmup.DefaultPolicy(),
	}
}

// LoadPolicy reads the YAML policy file at path over the defaults. An empty
// path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.Health.SuccessDelta < 0 {
		return fmt.Errorf("health.success_delta must not be negative")
	}
	if p.Health.RateLimitDelta > 0 {
		return fmt.Errorf("health.rate_limit_delta must not be positive")
	}
	if p.Health.LimitedBelow < 0 || p.Health.LimitedBelow > 100 {
		return fmt.Errorf("health.limited_below must be within 0..100")
	}
	for name, l := range map[string]ratelimit.Limits{"normal": p.RateLimit.Normal, "warmup": p.RateLimit.Warmup} {
		if l.Limit <= 0 || l.Window <= 0 {
			return fmt.Errorf("rate_limit.%s needs a positive limit and window", name)
		}
	}
	if p.RateLimit.Penalty < 0 {
		return fmt.Errorf("rate_limit.penalty must not be negative")
	}
	if p.Warmup.SuggestBelow < 0 || p.Warmup.SuggestBelow > 100 || p.Warmup.GraduateAt < 0 || p.Warmup.GraduateAt > 100 {
		return fmt.Errorf("warmup thresholds must be within 0..100")
	}
	if p.Warmup.MinDuration < 0 {
		return fmt.Errorf("warmup.min_duration must not be negative")
	}
	return nil
}
