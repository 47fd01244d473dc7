package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `name: maaltijdplus
port: "8080"
firestore:
  project_id: ${MAALTIJD_TEST_PROJECT}
  whitelist_collection_name: whitelist
  whitelist_fallback_collection_name: approved_emails
rate_limit:
  requests:
    max: 100
    window_minutes: 10
  analysis:
    max: 20
    window_minutes: 60
access:
  allow_list:
    - owner@maaltijdplus.app
signin_policy:
  - match:
      display_mode: standalone
    method: redirect
    persistence: local
`

func TestLoadConfig(t *testing.T) {

	os.Setenv("MAALTIJD_TEST_PROJECT", "mp-test-project")
	defer os.Unsetenv("MAALTIJD_TEST_PROJECT")

	fn := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(fn, []byte(sampleConfig), 0644); err != nil {
		t.Fatalf("writing sample config: %v", err)
	}

	cfg, err := LoadConfig(fn)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.GetProjectID() != "mp-test-project" {
		t.Errorf("expected env expanded project id, got %q", cfg.GetProjectID())
	}
	if cfg.GetWhiteListCollectionName() != "whitelist" {
		t.Errorf("unexpected whitelist collection %q", cfg.GetWhiteListCollectionName())
	}
	if cfg.GetWhiteListFallbackCollection() != "approved_emails" {
		t.Errorf("unexpected fallback collection %q", cfg.GetWhiteListFallbackCollection())
	}

	max, window := cfg.GetRequestRule()
	if max != 100 || window != 10*time.Minute {
		t.Errorf("unexpected request rule %d/%v", max, window)
	}
	max, window = cfg.GetAnalysisRule()
	if max != 20 || window != time.Hour {
		t.Errorf("unexpected analysis rule %d/%v", max, window)
	}

	if len(cfg.GetSigninPolicy()) != 1 || cfg.GetSigninPolicy()[0].Method != "redirect" {
		t.Errorf("unexpected signin policy %+v", cfg.GetSigninPolicy())
	}
}

func TestLoadConfigDefaults(t *testing.T) {

	fn := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(fn, []byte("name: maaltijdplus\n"), 0644); err != nil {
		t.Fatalf("writing sample config: %v", err)
	}

	cfg, err := LoadConfig(fn)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if max, window := cfg.GetRequestRule(); max != 100 || window != 10*time.Minute {
		t.Errorf("unexpected default request rule %d/%v", max, window)
	}
	if cfg.GetAccessCacheTTL() != 30*24*time.Hour {
		t.Errorf("unexpected default cache TTL %v", cfg.GetAccessCacheTTL())
	}
	if cfg.GetRedirectTimeout() != 2*time.Minute {
		t.Errorf("unexpected default redirect timeout %v", cfg.GetRedirectTimeout())
	}
	if cfg.GetRateLimitStore() != "memory" {
		t.Errorf("unexpected default limiter store %q", cfg.GetRateLimitStore())
	}
	if cfg.GetSweepThreshold() != 1000 {
		t.Errorf("unexpected default sweep threshold %d", cfg.GetSweepThreshold())
	}
	if cfg.GetMonthlyUploadLimit() != 100 {
		t.Errorf("unexpected default monthly cap %d", cfg.GetMonthlyUploadLimit())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing configuration file")
	}
}
