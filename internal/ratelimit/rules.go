package ratelimit

import (
	"errors"
	"net"
	"time"

	"github.com/Proton-105/user-sync/pkg/config"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	enabled  bool
	rule     config.RateLimitRule
	ips      map[string]struct{}
	networks []*net.IPNet
}

// NewRules constructs rate limiting rules from configuration settings. Whitelist
// entries may be plain IPs or CIDR ranges; invalid entries are ignored.
func NewRules(cfg config.RateLimitConfig) *Rules {
	r := &Rules{
		enabled: cfg.Enabled,
		rule:    cfg.PerClient,
		ips:     make(map[string]struct{}, len(cfg.Whitelist)),
	}

	for _, entry := range cfg.Whitelist {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			r.networks = append(r.networks, network)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			r.ips[ip.String()] = struct{}{}
		}
	}

	return r
}

// Enabled reports whether requests should be limited at all.
func (r *Rules) Enabled() bool {
	return r != nil && r.enabled
}

// IsWhitelisted returns true if the client IP bypasses rate limits.
func (r *Rules) IsWhitelisted(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	if _, ok := r.ips[ip.String()]; ok {
		return true
	}
	for _, network := range r.networks {
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// GetPerClientLimit returns the per-client rate limiting rule.
func (r *Rules) GetPerClientLimit() (int, time.Duration, error) {
	return parseRule(r.rule)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		return 0, 0, errors.New("window duration must be positive")
	}
	return rule.Limit, window, nil
}
