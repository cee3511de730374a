package resilience

import (
	"testing"
	"time"
)

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(5, 100, 2000)
	if p.Attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", p.Attempts)
	}
	if p.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected 100ms base delay, got %s", p.BaseDelay)
	}
	if p.MaxDelay != 2*time.Second {
		t.Errorf("expected 2s max delay, got %s", p.MaxDelay)
	}
}

func TestPolicyFromConfig_ZeroKeepsDefaults(t *testing.T) {
	def := FetchPolicy()
	p := PolicyFromConfig(0, 0, 0)
	if p.Attempts != def.Attempts || p.BaseDelay != def.BaseDelay || p.MaxDelay != def.MaxDelay {
		t.Errorf("expected fetch defaults, got %+v", p)
	}
}

func TestBreakerFromConfig(t *testing.T) {
	cfg := BreakerFromConfig(3, 10)
	if cfg.Threshold != 3 {
		t.Errorf("expected threshold 3, got %d", cfg.Threshold)
	}
	if cfg.Cooldown != 10*time.Second {
		t.Errorf("expected 10s cooldown, got %s", cfg.Cooldown)
	}

	def := DownloadBreakerConfig()
	cfg = BreakerFromConfig(0, 0)
	if cfg.Threshold != def.Threshold || cfg.Cooldown != def.Cooldown {
		t.Errorf("expected download defaults, got %+v", cfg)
	}
}
