package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive = "live"
	ModeDry  = "dry"

	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"

	DefaultDelegatesURL = "https://raw.githubusercontent.com/opentensor/bittensor-delegates/main/public/delegates.json"
)

// Platforms that carry a user allowlist.
var Platforms = []string{"telegram", "discord", "console"}

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	Timeout        string
	Retries        int
	Mode           string
	ChainEndpoint  string
	HistoryPath    string
	HistoryBackend string
	Wallet         string
	Verbose        bool
}

type Wallet struct {
	Name          string
	Coldkey       string
	DefaultNetuid *int
	ValidatorAll  string
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
	Verbose      bool
	Timeout      time.Duration
	Retries      int

	Mode                string
	RequireConfirmation bool
	ConfirmOverTAO      decimal.Decimal
	ConfirmTTL          time.Duration
	SubmitTimeout       time.Duration
	HistoryLimit        int
	AllowedActions      []string

	// Users maps each enabled platform to its allowed user ids. An empty
	// list admits everyone on that platform.
	Users map[string][]string

	DefaultNetuid    *int
	DefaultValidator string

	Aliases      map[string]string
	DelegatesURL string
	DelegatesTTL time.Duration

	ChainEndpoint string

	Wallets       map[string]Wallet
	DefaultWallet string

	HistoryBackend  string
	HistoryPath     string
	HistoryLockPath string
	CachePath       string
	CacheLockPath   string
}

// Wallet returns the named wallet, or the default one when name is empty.
func (s Settings) Wallet(name string) (Wallet, bool) {
	if strings.TrimSpace(name) == "" {
		name = s.DefaultWallet
	}
	w, ok := s.Wallets[name]
	return w, ok
}

// WalletNames lists configured wallets in name order.
func (s Settings) WalletNames() []string {
	names := make([]string, 0, len(s.Wallets))
	for name := range s.Wallets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	App     struct {
		Mode                  string   `yaml:"mode"`
		RequireConfirmation   *bool    `yaml:"require_confirmation"`
		ConfirmOverTAO        *string  `yaml:"confirm_over_tao"`
		ConfirmTTLSeconds     *int     `yaml:"confirm_ttl_seconds"`
		ConfirmTimeoutSeconds *int     `yaml:"confirm_timeout_seconds"`
		SubmitTimeout         string   `yaml:"submit_timeout"`
		HistoryLimit          *int     `yaml:"history_limit"`
		AllowedActions        []string `yaml:"allowed_actions"`
	} `yaml:"app"`
	Auth struct {
		TelegramUserIDs []string `yaml:"telegram_user_ids"`
		DiscordUserIDs  []string `yaml:"discord_user_ids"`
		ConsoleUserIDs  []string `yaml:"console_user_ids"`
		// Platforms, when set, restricts which platforms are served at all.
		Platforms []string `yaml:"platforms"`
	} `yaml:"auth"`
	Defaults struct {
		Netuid    *int   `yaml:"netuid"`
		Validator string `yaml:"validator"`
	} `yaml:"defaults"`
	Validators struct {
		Aliases              map[string]string `yaml:"aliases"`
		DelegatesFallbackURL string            `yaml:"delegates_fallback_url"`
		CacheTTLMinutes      *int              `yaml:"cache_ttl_minutes"`
	} `yaml:"validators"`
	Chain struct {
		Endpoint string `yaml:"endpoint"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"chain"`
	Wallets map[string]struct {
		Coldkey       string `yaml:"coldkey"`
		DefaultNetuid *int   `yaml:"default_netuid"`
		ValidatorAll  string `yaml:"validator_all"`
	} `yaml:"wallets"`
	DefaultWallet string `yaml:"default_wallet"`
	Storage       struct {
		HistoryBackend  string `yaml:"history_backend"`
		HistoryPath     string `yaml:"history_path"`
		HistoryLockPath string `yaml:"history_lock_path"`
		CachePath       string `yaml:"cache_path"`
		CacheLockPath   string `yaml:"cache_lock_path"`
	} `yaml:"storage"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, explicit, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, explicit, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	finalize(&settings)
	if err := validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	users := make(map[string][]string, len(Platforms))
	for _, p := range Platforms {
		users[p] = nil
	}
	return Settings{
		OutputMode:          "json",
		Timeout:             10 * time.Second,
		Retries:             2,
		Mode:                ModeLive,
		RequireConfirmation: true,
		ConfirmTTL:          5 * time.Minute,
		SubmitTimeout:       60 * time.Second,
		HistoryLimit:        20,
		Users:               users,
		Aliases:             map[string]string{},
		DelegatesURL:        DefaultDelegatesURL,
		DelegatesTTL:        time.Hour,
		Wallets:             map[string]Wallet{},
		DefaultWallet:       "main",
		HistoryBackend:      BackendJSONL,
		HistoryPath:         filepath.Join(dataDir, "history.jsonl"),
		CachePath:           cachePath,
		CacheLockPath:       lockPath,
	}, nil
}

// resolveConfigPath reports whether the path was asked for explicitly, in
// which case a missing file is an error.
func resolveConfigPath(input string) (string, bool, error) {
	if strings.TrimSpace(input) != "" {
		return input, true, nil
	}
	if v := strings.TrimSpace(os.Getenv("STAKECHAT_CONFIG")); v != "" {
		return v, true, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false, err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stakechat", "config.yaml"), false, nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "stakechat")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "stakechat"), nil
}

func applyFileConfig(path string, explicit bool, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(buf, &root); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	resolveEnvRefs(&root)
	var cfg fileConfig
	if len(root.Content) > 0 {
		if err := root.Decode(&cfg); err != nil {
			return fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}

	app := cfg.App
	if app.Mode != "" {
		settings.Mode = strings.ToLower(strings.TrimSpace(app.Mode))
	}
	if app.RequireConfirmation != nil {
		settings.RequireConfirmation = *app.RequireConfirmation
	}
	if app.ConfirmOverTAO != nil {
		v, err := decimal.NewFromString(strings.TrimSpace(*app.ConfirmOverTAO))
		if err != nil {
			return fmt.Errorf("config app.confirm_over_tao: %w", err)
		}
		settings.ConfirmOverTAO = v
	}
	switch {
	case app.ConfirmTTLSeconds != nil:
		settings.ConfirmTTL = time.Duration(*app.ConfirmTTLSeconds) * time.Second
	case app.ConfirmTimeoutSeconds != nil:
		settings.ConfirmTTL = time.Duration(*app.ConfirmTimeoutSeconds) * time.Second
	}
	if app.SubmitTimeout != "" {
		d, err := time.ParseDuration(app.SubmitTimeout)
		if err != nil {
			return fmt.Errorf("config app.submit_timeout: %w", err)
		}
		settings.SubmitTimeout = d
	}
	if app.HistoryLimit != nil {
		settings.HistoryLimit = *app.HistoryLimit
	}
	if len(app.AllowedActions) > 0 {
		settings.AllowedActions = splitList(strings.Join(app.AllowedActions, ","))
	}

	auth := cfg.Auth
	lists := map[string][]string{
		"telegram": auth.TelegramUserIDs,
		"discord":  auth.DiscordUserIDs,
		"console":  auth.ConsoleUserIDs,
	}
	for platform, ids := range lists {
		if len(ids) > 0 {
			settings.Users[platform] = splitList(strings.Join(ids, ","))
		}
	}
	if len(auth.Platforms) > 0 {
		enabled := map[string]bool{}
		for _, p := range auth.Platforms {
			enabled[strings.ToLower(strings.TrimSpace(p))] = true
		}
		for platform := range settings.Users {
			if !enabled[platform] {
				delete(settings.Users, platform)
			}
		}
	}

	if cfg.Defaults.Netuid != nil {
		v := *cfg.Defaults.Netuid
		settings.DefaultNetuid = &v
	}
	if cfg.Defaults.Validator != "" {
		settings.DefaultValidator = strings.TrimSpace(cfg.Defaults.Validator)
	}

	for name, hotkey := range cfg.Validators.Aliases {
		settings.Aliases[name] = strings.TrimSpace(hotkey)
	}
	if cfg.Validators.DelegatesFallbackURL != "" {
		settings.DelegatesURL = cfg.Validators.DelegatesFallbackURL
	}
	if cfg.Validators.CacheTTLMinutes != nil {
		settings.DelegatesTTL = time.Duration(*cfg.Validators.CacheTTLMinutes) * time.Minute
	}

	if cfg.Chain.Endpoint != "" {
		settings.ChainEndpoint = cfg.Chain.Endpoint
	}
	if cfg.Chain.Timeout != "" {
		d, err := time.ParseDuration(cfg.Chain.Timeout)
		if err != nil {
			return fmt.Errorf("config chain.timeout: %w", err)
		}
		settings.Timeout = d
	}

	for name, w := range cfg.Wallets {
		wallet := Wallet{Name: name, Coldkey: w.Coldkey, ValidatorAll: strings.TrimSpace(w.ValidatorAll)}
		if w.DefaultNetuid != nil {
			v := *w.DefaultNetuid
			wallet.DefaultNetuid = &v
		}
		if wallet.Coldkey == "" {
			wallet.Coldkey = name
		}
		settings.Wallets[name] = wallet
	}
	if cfg.DefaultWallet != "" {
		settings.DefaultWallet = cfg.DefaultWallet
	}

	st := cfg.Storage
	if st.HistoryBackend != "" {
		settings.HistoryBackend = strings.ToLower(st.HistoryBackend)
	}
	if st.HistoryPath != "" {
		settings.HistoryPath = st.HistoryPath
	}
	if st.HistoryLockPath != "" {
		settings.HistoryLockPath = st.HistoryLockPath
	}
	if st.CachePath != "" {
		settings.CachePath = st.CachePath
	}
	if st.CacheLockPath != "" {
		settings.CacheLockPath = st.CacheLockPath
	}
	return nil
}

// resolveEnvRefs replaces scalar values of the form "env:NAME" with the
// value of NAME, which is then typed like any other plain scalar.
func resolveEnvRefs(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		v := strings.TrimSpace(n.Value)
		if len(v) > 4 && strings.EqualFold(v[:4], "env:") {
			n.Value = os.Getenv(strings.TrimSpace(v[4:]))
			n.Tag = ""
			n.Style = 0
		}
		return
	}
	for i, child := range n.Content {
		// Mapping keys are never resolved.
		if n.Kind == yaml.MappingNode && i%2 == 0 {
			continue
		}
		resolveEnvRefs(child)
	}
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("STAKECHAT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("STAKECHAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("STAKECHAT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("STAKECHAT_MODE"); v != "" {
		settings.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STAKECHAT_CHAIN_ENDPOINT"); v != "" {
		settings.ChainEndpoint = v
	}
	if v := os.Getenv("STAKECHAT_HISTORY_PATH"); v != "" {
		settings.HistoryPath = v
	}
	if v := os.Getenv("STAKECHAT_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.Mode != "" {
		settings.Mode = strings.ToLower(strings.TrimSpace(flags.Mode))
	}
	if flags.ChainEndpoint != "" {
		settings.ChainEndpoint = flags.ChainEndpoint
	}
	if flags.HistoryPath != "" {
		settings.HistoryPath = flags.HistoryPath
	}
	if flags.HistoryBackend != "" {
		settings.HistoryBackend = strings.ToLower(flags.HistoryBackend)
	}
	if flags.Wallet != "" {
		settings.DefaultWallet = flags.Wallet
	}
	if flags.Verbose {
		settings.Verbose = true
	}
	return nil
}

func finalize(settings *Settings) {
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 20
	}
	if settings.HistoryBackend == BackendSQLite && filepath.Ext(settings.HistoryPath) == ".jsonl" {
		settings.HistoryPath = strings.TrimSuffix(settings.HistoryPath, ".jsonl") + ".db"
	}
	// A bot with no wallet section still runs against one wallet named after
	// the default.
	if len(settings.Wallets) == 0 {
		settings.Wallets[settings.DefaultWallet] = Wallet{Name: settings.DefaultWallet, Coldkey: settings.DefaultWallet}
	}
}

func validate(s Settings) error {
	if s.OutputMode != "json" && s.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if s.Mode != ModeLive && s.Mode != ModeDry {
		return fmt.Errorf("app.mode must be live or dry, got %q", s.Mode)
	}
	if s.HistoryBackend != BackendJSONL && s.HistoryBackend != BackendSQLite {
		return fmt.Errorf("storage.history_backend must be jsonl or sqlite, got %q", s.HistoryBackend)
	}
	if s.ConfirmTTL <= 0 {
		return fmt.Errorf("app.confirm_ttl_seconds must be positive")
	}
	if s.SubmitTimeout <= 0 {
		return fmt.Errorf("app.submit_timeout must be positive")
	}
	if s.ConfirmOverTAO.IsNegative() {
		return fmt.Errorf("app.confirm_over_tao must not be negative")
	}
	if s.DelegatesTTL <= 0 {
		return fmt.Errorf("validators.cache_ttl_minutes must be positive")
	}
	if s.DefaultNetuid != nil && (*s.DefaultNetuid < 0 || *s.DefaultNetuid > 65535) {
		return fmt.Errorf("defaults.netuid out of range: %d", *s.DefaultNetuid)
	}
	if _, ok := s.Wallets[s.DefaultWallet]; !ok {
		return fmt.Errorf("default_wallet %q not found in wallets (available: %s)", s.DefaultWallet, strings.Join(s.WalletNames(), ", "))
	}
	for name, w := range s.Wallets {
		if w.DefaultNetuid != nil && (*w.DefaultNetuid < 0 || *w.DefaultNetuid > 65535) {
			return fmt.Errorf("wallets.%s.default_netuid out of range: %d", name, *w.DefaultNetuid)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
