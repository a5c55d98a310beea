package order_executor

import (
	"testing"
	"time"
)

func TestConfigWithDefaults_LeaseCoversAttempt(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantTTL time.Duration
	}{
		{
			name:    "defaults already cover an attempt",
			mutate:  func(*Config) {},
			wantTTL: 5 * time.Minute,
		},
		{
			name:    "short ttl is raised",
			mutate:  func(c *Config) { c.LeaseTTL = 30 * time.Second },
			wantTTL: 3*time.Minute + 5*3*time.Second + leaseHeadroom,
		},
		{
			name: "long confirmation timeout raises the default",
			mutate: func(c *Config) {
				c.LeaseTTL = 0
				c.ConfirmTimeout = 10 * time.Minute
			},
			wantTTL: 10*time.Minute + 5*3*time.Second + leaseHeadroom,
		},
		{
			name: "explicit ttl above the minimum is kept",
			mutate: func(c *Config) {
				c.LeaseTTL = time.Hour
			},
			wantTTL: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigDefaults()
			tt.mutate(&cfg)
			got := cfg.withDefaults()
			if got.LeaseTTL != tt.wantTTL {
				t.Errorf("expected lease ttl %s, got %s", tt.wantTTL, got.LeaseTTL)
			}
			if got.LeaseTTL < got.MinLeaseTTL() {
				t.Errorf("lease ttl %s shorter than one attempt %s", got.LeaseTTL, got.MinLeaseTTL())
			}
		})
	}
}
