// Package endpoint decides which inference service base URL a request goes to.
package endpoint

import (
	"net"
	"strings"
)

const (
	// DefaultLocalURL is where the inference service listens during development.
	DefaultLocalURL = "http://localhost:8000"
	// DefaultRelativePath is used when nothing else applies.
	DefaultRelativePath = "/api"
)

// Strategy names the rule that produced a Config.
type Strategy int

const (
	StrategyExplicit Strategy = iota
	StrategyLocalHeuristic
	StrategyRelativeDefault
)

func (s Strategy) String() string {
	switch s {
	case StrategyExplicit:
		return "explicit"
	case StrategyLocalHeuristic:
		return "local-heuristic"
	case StrategyRelativeDefault:
		return "relative-default"
	default:
		return "unknown"
	}
}

// Config is the resolved base URL of the inference service.
type Config struct {
	BaseURL  string
	Strategy Strategy
}

// PredictURL is the prediction route under the base URL.
func (c Config) PredictURL() string {
	return c.BaseURL + "/predict"
}

// HealthURL is the health route under the base URL.
func (c Config) HealthURL() string {
	return c.BaseURL + "/health"
}

// Relative reports whether the base URL lacks a scheme and host.
func (c Config) Relative() bool {
	return !strings.Contains(c.BaseURL, "://")
}

// LocalDetector reports whether an observed host is a development machine.
type LocalDetector func(host string) bool

// Resolver evaluates the explicit, local-heuristic and relative-default
// strategies in that order.
type Resolver struct {
	ExplicitURL  string
	LocalURL     string
	RelativePath string
	IsLocal      LocalDetector
}

// NewResolver returns a resolver using the default local detector.
func NewResolver(explicitURL, localURL, relativePath string) *Resolver {
	if localURL == "" {
		localURL = DefaultLocalURL
	}
	if relativePath == "" {
		relativePath = DefaultRelativePath
	}
	return &Resolver{
		ExplicitURL:  explicitURL,
		LocalURL:     localURL,
		RelativePath: relativePath,
		IsLocal:      IsLocalHost,
	}
}

// Resolve picks the base URL for a request observed on host. host may be empty
// when the caller cannot observe one.
func (r *Resolver) Resolve(host string) Config {
	if explicit := strings.TrimSpace(r.ExplicitURL); explicit != "" {
		return Config{BaseURL: trimSeparator(explicit), Strategy: StrategyExplicit}
	}
	if r.IsLocal != nil && host != "" && r.IsLocal(host) {
		return Config{BaseURL: trimSeparator(r.LocalURL), Strategy: StrategyLocalHeuristic}
	}
	return Config{BaseURL: trimSeparator(r.RelativePath), Strategy: StrategyRelativeDefault}
}

// trimSeparator strips exactly one trailing slash.
func trimSeparator(url string) string {
	return strings.TrimSuffix(url, "/")
}

// IsLocalHost matches loopback addresses and development host names. host may
// carry a port.
func IsLocalHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	switch host {
	case "localhost", "0.0.0.0":
		return true
	}
	if strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
