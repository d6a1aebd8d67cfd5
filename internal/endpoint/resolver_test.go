package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveExplicitStripsOneSeparator(t *testing.T) {
	r := NewResolver("https://api.example.com/", "", "")

	cfg := r.Resolve("localhost:3000")

	require.Equal(t, StrategyExplicit, cfg.Strategy)
	require.Equal(t, "https://api.example.com", cfg.BaseURL)
	require.Equal(t, "https://api.example.com/predict", cfg.PredictURL())
	require.False(t, cfg.Relative())
}

func TestResolveStripsExactlyOneSeparator(t *testing.T) {
	r := NewResolver("https://api.example.com//", "", "")
	require.Equal(t, "https://api.example.com/", r.Resolve("").BaseURL)
}

func TestResolveLocalHeuristic(t *testing.T) {
	r := NewResolver("", "", "")

	for _, host := range []string{"localhost", "localhost:3000", "127.0.0.1:8080", "[::1]:8080", "bakery.local"} {
		cfg := r.Resolve(host)
		require.Equal(t, StrategyLocalHeuristic, cfg.Strategy, host)
		require.Equal(t, "http://localhost:8000/predict", cfg.PredictURL(), host)
	}
}

func TestResolveRelativeDefault(t *testing.T) {
	r := NewResolver("", "", "")

	for _, host := range []string{"", "bakeready.example.com", "10.0.0.5:8080"} {
		cfg := r.Resolve(host)
		require.Equal(t, StrategyRelativeDefault, cfg.Strategy, host)
		require.Equal(t, "/api/predict", cfg.PredictURL(), host)
		require.True(t, cfg.Relative())
	}
}

func TestResolveUsesInjectedDetector(t *testing.T) {
	r := NewResolver("", "http://inference.dev:9000/", "/api/")
	r.IsLocal = func(host string) bool { return host == "workstation" }

	require.Equal(t, Config{BaseURL: "http://inference.dev:9000", Strategy: StrategyLocalHeuristic}, r.Resolve("workstation"))
	require.Equal(t, Config{BaseURL: "/api", Strategy: StrategyRelativeDefault}, r.Resolve("localhost"))
}

func TestStrategyString(t *testing.T) {
	require.Equal(t, "explicit", StrategyExplicit.String())
	require.Equal(t, "local-heuristic", StrategyLocalHeuristic.String())
	require.Equal(t, "relative-default", StrategyRelativeDefault.String())
}
