package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("STAKECHAT_CONFIG", "")
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Mode != ModeLive || !settings.RequireConfirmation || settings.ConfirmTTL != 5*time.Minute {
		t.Fatalf("unexpected app defaults: %+v", settings)
	}
	if settings.HistoryBackend != BackendJSONL || !strings.HasSuffix(settings.HistoryPath, filepath.Join("stakechat", "history.jsonl")) {
		t.Fatalf("unexpected storage defaults: %s %s", settings.HistoryBackend, settings.HistoryPath)
	}
	if _, ok := settings.Wallet(""); !ok {
		t.Fatal("expected a default wallet")
	}
	if settings.DelegatesURL != DefaultDelegatesURL || settings.DelegatesTTL != time.Hour {
		t.Fatalf("unexpected validator defaults: %s %s", settings.DelegatesURL, settings.DelegatesTTL)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "output: plain\nretries: 1\napp:\n  mode: live\nchain:\n  endpoint: http://file:9944\n")

	t.Setenv("STAKECHAT_OUTPUT", "json")
	t.Setenv("STAKECHAT_MODE", "dry")
	t.Setenv("STAKECHAT_CHAIN_ENDPOINT", "http://env:9944")
	settings, err := Load(GlobalFlags{ConfigPath: path, Plain: true, Retries: 5, ChainEndpoint: "http://flag:9944"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.Mode != ModeDry {
		t.Fatalf("expected env to beat file, got mode=%s", settings.Mode)
	}
	if settings.ChainEndpoint != "http://flag:9944" {
		t.Fatalf("expected flag endpoint, got %s", settings.ChainEndpoint)
	}
}

func TestLoadFileSections(t *testing.T) {
	isolate(t)
	t.Setenv("TEST_TG_USER", "777")
	path := writeConfig(t, `
app:
  require_confirmation: true
  confirm_over_tao: 0.5
  confirm_timeout_seconds: 90
  submit_timeout: 30s
  allowed_actions: [stake, unstake]
auth:
  telegram_user_ids: [123, "env:TEST_TG_USER"]
defaults:
  netuid: 31
  validator: tao.bot
validators:
  aliases:
    foundry: 5C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT
  cache_ttl_minutes: 15
wallets:
  main:
    coldkey: ck-main
  trading:
    default_netuid: 8
    validator_all: foundry
default_wallet: trading
storage:
  history_backend: sqlite
`)
	settings, err := Load(GlobalFlags{ConfigPath: path, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ConfirmOverTAO.String() != "0.5" {
		t.Fatalf("unexpected threshold %s", settings.ConfirmOverTAO)
	}
	if settings.ConfirmTTL != 90*time.Second || settings.SubmitTimeout != 30*time.Second {
		t.Fatalf("unexpected timings: %s %s", settings.ConfirmTTL, settings.SubmitTimeout)
	}
	if strings.Join(settings.AllowedActions, ",") != "stake,unstake" {
		t.Fatalf("unexpected allowed actions %v", settings.AllowedActions)
	}
	if got := strings.Join(settings.Users["telegram"], ","); got != "123,777" {
		t.Fatalf("expected env-resolved user ids, got %s", got)
	}
	if _, ok := settings.Users["discord"]; !ok {
		t.Fatal("expected discord to stay enabled with an open list")
	}
	if settings.DefaultNetuid == nil || *settings.DefaultNetuid != 31 || settings.DefaultValidator != "tao.bot" {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.Aliases["foundry"] == "" || settings.DelegatesTTL != 15*time.Minute {
		t.Fatalf("unexpected validators: %+v %s", settings.Aliases, settings.DelegatesTTL)
	}
	w, ok := settings.Wallet("")
	if !ok || w.Name != "trading" || w.Coldkey != "trading" || w.DefaultNetuid == nil || *w.DefaultNetuid != 8 || w.ValidatorAll != "foundry" {
		t.Fatalf("unexpected default wallet: %+v", w)
	}
	if settings.HistoryBackend != BackendSQLite || filepath.Ext(settings.HistoryPath) != ".db" {
		t.Fatalf("unexpected storage: %s %s", settings.HistoryBackend, settings.HistoryPath)
	}
}

func TestLoadEnvIndirectionTypesValues(t *testing.T) {
	isolate(t)
	t.Setenv("TEST_NETUID", "12")
	path := writeConfig(t, "defaults:\n  netuid: env:TEST_NETUID\n")
	settings, err := Load(GlobalFlags{ConfigPath: path, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.DefaultNetuid == nil || *settings.DefaultNetuid != 12 {
		t.Fatalf("expected netuid from env, got %v", settings.DefaultNetuid)
	}
}

func TestLoadValidation(t *testing.T) {
	isolate(t)
	cases := map[string]string{
		"unknown mode":        "app:\n  mode: paper\n",
		"negative threshold":  "app:\n  confirm_over_tao: -1\n",
		"zero ttl":            "app:\n  confirm_ttl_seconds: 0\n",
		"unknown backend":     "storage:\n  history_backend: csv\n",
		"missing wallet":      "wallets:\n  main: {}\ndefault_wallet: other\n",
		"netuid out of range": "defaults:\n  netuid: 70000\n",
		"bad duration":        "app:\n  submit_timeout: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(GlobalFlags{ConfigPath: writeConfig(t, body), Retries: -1}); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	if _, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"), Retries: -1}); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}
