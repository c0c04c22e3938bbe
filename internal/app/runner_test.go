package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/ggonzalez94/stakechat/internal/chain/chaintest"
	"github.com/ggonzalez94/stakechat/internal/model"
)

const foundryHotkey = "5C62Ck4UrFPiBtoCmeSrgF7x9yv9mn38446dhCpsi2mLHiFT"

type chatEnvelope struct {
	Success bool            `json:"success"`
	Data    model.ChatReply `json:"data"`
	Meta    struct {
		Command string `json:"command"`
		Mode    string `json:"mode"`
	} `json:"meta"`
}

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv("STAKECHAT_CONFIG", "")
	return tmp
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newFake() *chaintest.Fake {
	return chaintest.New().SetFree("main", "10").SetPrice(31, "0.5")
}

type testRunner struct {
	*Runner
	stdout, stderr bytes.Buffer
	dials          int
}

func newTestRunner(fake *chaintest.Fake, stdin string) *testRunner {
	tr := &testRunner{}
	tr.Runner = NewRunnerWithIO(strings.NewReader(stdin), &tr.stdout, &tr.stderr).
		WithChainDialer(func(ctx context.Context, endpoint string, timeout time.Duration) (chain.Client, func(), error) {
			tr.dials++
			return fake, func() {}, nil
		})
	return tr
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("stakechat delegates resolve"); got != "delegates resolve" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerChatPromptsForConfirmation(t *testing.T) {
	isolate(t)
	fake := newFake()
	r := newTestRunner(fake, "")

	code := r.Run([]string{"chat", "--user", "1", "--chain-endpoint", "ws://gateway", "stake", "0.5", "31"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	var env chatEnvelope
	if err := json.Unmarshal(r.stdout.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, r.stdout.String())
	}
	if !env.Success || env.Meta.Command != "chat" || env.Meta.Mode != "live" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !strings.Contains(env.Data.Text, "Confirm Stake") || len(env.Data.Buttons) != 1 {
		t.Fatalf("expected a confirmation prompt, got %+v", env.Data)
	}
	if env.Data.Platform != "console" || env.Data.UserID != "1" {
		t.Fatalf("unexpected reply address: %+v", env.Data)
	}
	if n := len(fake.Submissions()); n != 0 {
		t.Fatalf("expected no submission, got %d", n)
	}
}

func TestRunnerChatExecutesBelowThresholdAndHistoryLists(t *testing.T) {
	tmp := isolate(t)
	cfg := writeConfig(t, tmp, "app:\n  confirm_over_tao: \"1\"\nchain:\n  endpoint: ws://gateway\n")
	fake := newFake()

	r := newTestRunner(fake, "")
	if code := r.Run([]string{"chat", "--config", cfg, "--user", "1", "--plain", "stake", "0.2", "31"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	if !strings.Contains(r.stdout.String(), "Stake Confirmed") {
		t.Fatalf("expected plain reply text, got %s", r.stdout.String())
	}

	h := newTestRunner(fake, "")
	if code := h.Run([]string{"history", "--config", cfg, "--user", "1", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	var records []map[string]any
	if err := json.Unmarshal(h.stdout.Bytes(), &records); err != nil {
		t.Fatalf("failed to parse history json: %v output=%s", err, h.stdout.String())
	}
	if len(records) != 1 || records[0]["action"] != "stake" || records[0]["result"] != "success" {
		t.Fatalf("unexpected history: %+v", records)
	}
	if h.dials != 0 {
		t.Fatalf("history should not need the chain, dialed %d times", h.dials)
	}
}

func TestRunnerChatUsesConfiguredColdkey(t *testing.T) {
	tmp := isolate(t)
	cfg := writeConfig(t, tmp, "app:\n  confirm_over_tao: \"1\"\nchain:\n  endpoint: ws://gateway\nwallets:\n  main:\n    coldkey: ck-main\ndefault_wallet: main\n")
	fake := chaintest.New().SetFree("ck-main", "10").SetPrice(31, "0.5")

	r := newTestRunner(fake, "")
	if code := r.Run([]string{"chat", "--config", cfg, "--user", "1", "--plain", "stake", "0.2", "31"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	subs := fake.Submissions()
	if len(subs) != 1 || subs[0].Wallet != "ck-main" {
		t.Fatalf("expected a submission from the configured coldkey, got %+v", subs)
	}
}

func TestRunnerConsoleKeepsConfirmationsAcrossLines(t *testing.T) {
	isolate(t)
	fake := newFake()
	r := newTestRunner(fake, "stake 1 31\nconfirm\nbalance\nquit\nstake 1 31\n")

	if code := r.Run([]string{"console", "--user", "7", "--chain-endpoint", "ws://gateway"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	out := r.stdout.String()
	for _, want := range []string{"Confirm Stake", "[✅ Confirm: type confirm]", "Stake Confirmed", "Portfolio"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected console output to contain %q, got:\n%s", want, out)
		}
	}
	if n := len(fake.Submissions()); n != 1 {
		t.Fatalf("expected one submission before quit, got %d", n)
	}
}

func TestRunnerDryModeNeverSubmits(t *testing.T) {
	isolate(t)
	fake := newFake()
	r := newTestRunner(fake, "")
	code := r.Run([]string{"chat", "--mode", "dry", "--user", "1", "--chain-endpoint", "ws://gateway", "--plain", "stake", "3", "31"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	if !strings.Contains(r.stdout.String(), "DRY MODE") || len(fake.Submissions()) != 0 {
		t.Fatalf("expected dry-run preview only, got %s", r.stdout.String())
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	r := newTestRunner(newFake(), "")
	code := r.Run([]string{"chat", "--results-only", "balance"})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, r.stderr.String())
	}
	var env map[string]any
	if err := json.Unmarshal(r.stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, r.stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerChatRequiresChainEndpoint(t *testing.T) {
	isolate(t)
	r := newTestRunner(newFake(), "")
	code := r.Run([]string{"chat", "--user", "1", "balance"})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(r.stderr.String(), "chain endpoint is not configured") {
		t.Fatalf("expected endpoint error, got %s", r.stderr.String())
	}
	if r.dials != 0 {
		t.Fatalf("expected no dial, got %d", r.dials)
	}
}

func TestRunnerDelegatesResolveAndRefresh(t *testing.T) {
	tmp := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"` + foundryHotkey + `": {"name": "Foundry"}}`))
	}))
	defer srv.Close()
	cfg := writeConfig(t, tmp, "validators:\n  delegates_fallback_url: "+srv.URL+"\n")

	r := newTestRunner(newFake(), "")
	if code := r.Run([]string{"delegates", "resolve", "--config", cfg, "--results-only", "Foundry"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	var res model.DelegateResolution
	if err := json.Unmarshal(r.stdout.Bytes(), &res); err != nil {
		t.Fatalf("failed to parse resolution: %v output=%s", err, r.stdout.String())
	}
	if res.Hotkey != foundryHotkey || res.DisplayName != "Foundry" {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	r = newTestRunner(newFake(), "")
	if code := r.Run([]string{"delegates", "refresh", "--config", cfg, "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	var snap model.DelegateSnapshot
	if err := json.Unmarshal(r.stdout.Bytes(), &snap); err != nil {
		t.Fatalf("failed to parse snapshot: %v output=%s", err, r.stdout.String())
	}
	if snap.Entries != 1 || snap.Source != srv.URL {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRunnerDoctor(t *testing.T) {
	tmp := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"` + foundryHotkey + `": {"name": "Foundry"}}`))
	}))
	defer srv.Close()
	cfg := writeConfig(t, tmp, "validators:\n  delegates_fallback_url: "+srv.URL+"\nchain:\n  endpoint: ws://gateway\n")

	r := newTestRunner(newFake(), "")
	if code := r.Run([]string{"doctor", "--config", cfg, "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	var checks []model.DoctorCheck
	if err := json.Unmarshal(r.stdout.Bytes(), &checks); err != nil {
		t.Fatalf("failed to parse checks: %v output=%s", err, r.stdout.String())
	}
	if len(checks) != 4 {
		t.Fatalf("expected 4 checks, got %+v", checks)
	}
	for _, c := range checks {
		if c.Status != checkOK {
			t.Fatalf("expected all checks ok, got %+v", checks)
		}
	}

	noChain := writeConfig(t, t.TempDir(), "validators:\n  delegates_fallback_url: "+srv.URL+"\n")
	r = newTestRunner(newFake(), "")
	if code := r.Run([]string{"doctor", "--config", noChain}); code != 12 {
		t.Fatalf("expected exit 12 without an endpoint, got %d", code)
	}
}

func TestRunnerVersion(t *testing.T) {
	r := newTestRunner(newFake(), "")
	if code := r.Run([]string{"version"}); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(r.stdout.String()) == "" {
		t.Fatal("expected a version string")
	}
}

func TestRunnerSchemaChat(t *testing.T) {
	isolate(t)
	r := newTestRunner(newFake(), "")
	if code := r.Run([]string{"schema", "chat", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, r.stderr.String())
	}
	var out struct {
		Path  string `json:"path"`
		Flags []struct {
			Name     string `json:"name"`
			Required bool   `json:"required"`
		} `json:"flags"`
	}
	if err := json.Unmarshal(r.stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse schema: %v output=%s", err, r.stdout.String())
	}
	if out.Path != "stakechat chat" {
		t.Fatalf("unexpected path: %s", out.Path)
	}
	required := false
	for _, f := range out.Flags {
		if f.Name == "user" {
			required = f.Required
		}
	}
	if !required {
		t.Fatalf("expected --user to be required, got %+v", out.Flags)
	}
}
