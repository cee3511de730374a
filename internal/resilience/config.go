package resilience

import (
	"time"
)

// PolicyFromConfig builds a retry Policy from integer config knobs.
// Non-positive values keep the fetch defaults.
func PolicyFromConfig(attempts, baseDelayMS, maxDelayMS int) Policy {
	p := FetchPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if baseDelayMS > 0 {
		p.BaseDelay = time.Duration(baseDelayMS) * time.Millisecond
	}
	if maxDelayMS > 0 {
		p.MaxDelay = time.Duration(maxDelayMS) * time.Millisecond
	}
	return p
}

// BreakerFromConfig builds a BreakerConfig from integer config knobs.
// Non-positive values keep the download defaults.
func BreakerFromConfig(threshold, cooldownSecs int) BreakerConfig {
	cfg := DownloadBreakerConfig()
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
