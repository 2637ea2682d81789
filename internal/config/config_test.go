package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestLoadAndWatchFallsBackToEnvWhenFileMissing(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("USER_PROFILE_URL", "http://up.local")
	t.Setenv("CONTENT_URL", "http://content.local")
	t.Setenv("TRENDING_URL", "http://trending.local")

	cfg, w, err := LoadAndWatch(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if cfg.Server.Addr != ":9999" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Upstreams.UserProfile.BaseURLs[0] != "http://up.local" {
		t.Fatalf("UserProfile.BaseURLs = %v", cfg.Upstreams.UserProfile.BaseURLs)
	}
	if cfg.Upstreams.UserProfile.CallTimeout != "3s" {
		t.Fatalf("UserProfile.CallTimeout = %q", cfg.Upstreams.UserProfile.CallTimeout)
	}
	if cfg.Upstreams.Trending.CallTimeout != "5s" {
		t.Fatalf("Trending.CallTimeout = %q", cfg.Upstreams.Trending.CallTimeout)
	}
}

func TestLoadExpandsEnvVarsInYAML(t *testing.T) {
	t.Setenv("CONTENT_REPLICA", "http://content-1.internal")

	path := filepath.Join(t.TempDir(), "recoguard.yaml")
	yaml := `
server:
  addr: ":8080"
upstreams:
  user_profile:
    base_urls: ["http://profile.internal"]
  content:
    base_urls: ["${CONTENT_REPLICA}"]
  trending:
    base_urls: ["http://trending.internal"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, w, err := LoadAndWatch(path, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if got := cfg.Upstreams.Content.BaseURLs[0]; got != "http://content-1.internal" {
		t.Fatalf("Content.BaseURLs[0] = %q, want expanded env value", got)
	}
	if cfg.Upstreams.Content.LBAlgorithm != "round_robin" {
		t.Fatalf("Content.LBAlgorithm default = %q", cfg.Upstreams.Content.LBAlgorithm)
	}
}

func TestParseDurationOrFallsBackOnEmptyOrInvalid(t *testing.T) {
	if got := ParseDurationOr("", 5); got != 5 {
		t.Fatalf("ParseDurationOr empty = %v", got)
	}
	if got := ParseDurationOr("not-a-duration", 5); got != 5 {
		t.Fatalf("ParseDurationOr invalid = %v", got)
	}
}
