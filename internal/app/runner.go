package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/stakechat/internal/bot"
	"github.com/ggonzalez94/stakechat/internal/cache"
	"github.com/ggonzalez94/stakechat/internal/chain"
	"github.com/ggonzalez94/stakechat/internal/config"
	"github.com/ggonzalez94/stakechat/internal/confirm"
	"github.com/ggonzalez94/stakechat/internal/delegates"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/ggonzalez94/stakechat/internal/execution"
	"github.com/ggonzalez94/stakechat/internal/httpx"
	"github.com/ggonzalez94/stakechat/internal/ledger"
	"github.com/ggonzalez94/stakechat/internal/model"
	"github.com/ggonzalez94/stakechat/internal/out"
	"github.com/ggonzalez94/stakechat/internal/policy"
	"github.com/ggonzalez94/stakechat/internal/schema"
	"github.com/ggonzalez94/stakechat/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// snapshotRetention bounds how long unused cache snapshots are kept.
const snapshotRetention = 30 * 24 * time.Hour

// ChainDialer connects to the chain gateway. The returned func releases the
// connection.
type ChainDialer func(ctx context.Context, endpoint string, timeout time.Duration) (chain.Client, func(), error)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	dial   ChainDialer
}

func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return NewRunnerWithIO(strings.NewReader(""), stdout, stderr)
}

func NewRunnerWithIO(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   dialRPC,
	}
}

// WithChainDialer replaces how the runner reaches the chain.
func (r *Runner) WithChainDialer(dial ChainDialer) *Runner {
	r.dial = dial
	return r
}

func dialRPC(ctx context.Context, endpoint string, timeout time.Duration) (chain.Client, func(), error) {
	c, err := chain.DialRPC(ctx, endpoint, timeout)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	root        *cobra.Command
	lastCommand string
	log         *slog.Logger

	cache      *cache.Store
	history    ledger.Store
	chain      chain.Client
	closeChain func()
	resolver   *delegates.Resolver
	service    *bot.Service
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Chat-driven staking bot for Bittensor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = newLogger(s.runner.stderr, settings.Verbose)
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Request timeout for the chain and the delegate directory")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per directory request")
	cmd.PersistentFlags().StringVar(&s.flags.Mode, "mode", "", "Execution mode: live or dry")
	cmd.PersistentFlags().StringVar(&s.flags.ChainEndpoint, "chain-endpoint", "", "Chain gateway JSON-RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.HistoryPath, "history-path", "", "Transaction history file")
	cmd.PersistentFlags().StringVar(&s.flags.HistoryBackend, "history-backend", "", "History backend: jsonl or sqlite")
	cmd.PersistentFlags().StringVar(&s.flags.Wallet, "wallet", "", "Default wallet name")
	cmd.PersistentFlags().BoolVarP(&s.flags.Verbose, "verbose", "v", false, "Log debug detail to stderr")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newConsoleCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newDelegatesCommand())
	cmd.AddCommand(s.newDoctorCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print the command tree with flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Describe(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "describe command", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data)
		},
	}
}

func (s *runtimeState) newChatCommand() *cobra.Command {
	var user, platform, name string
	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Handle one chat message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.botService(cmd.Context())
			if err != nil {
				return err
			}
			msg := bot.Message{Platform: platform, UserID: user, UserName: name, Text: strings.Join(args, " ")}
			reply := svc.Handle(cmd.Context(), msg)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), chatReply(msg, reply))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Platform user id")
	cmd.Flags().StringVar(&platform, "platform", "console", "Messaging platform of the user")
	cmd.Flags().StringVar(&name, "name", "", "Display name of the user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var user, platform string
	var limit, netuid int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded stake and unstake attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.historyStore()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = s.settings.HistoryLimit
			}
			q := ledger.Query{Platform: strings.ToLower(platform), UserID: user, Wallet: s.flags.Wallet}
			if netuid >= 0 {
				q.Netuid, q.HasNetuid = netuid, true
			}
			records, err := ledger.NewPortfolio(store, nil, s.runner.now).History(cmd.Context(), q, limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Platform user id")
	cmd.Flags().StringVar(&platform, "platform", "console", "Messaging platform of the user")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to return (default from config)")
	cmd.Flags().IntVar(&netuid, "netuid", -1, "Only records on this subnet")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (s *runtimeState) newDelegatesCommand() *cobra.Command {
	root := &cobra.Command{Use: "delegates", Short: "Validator directory commands"}

	resolve := &cobra.Command{
		Use:   "resolve <name-or-hotkey>",
		Short: "Resolve a validator name, alias or hotkey",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := s.delegateResolver()
			query := strings.Join(args, " ")
			hotkey, err := r.Resolve(cmd.Context(), query)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.DelegateResolution{
				Query:       query,
				Hotkey:      hotkey,
				DisplayName: r.DisplayName(cmd.Context(), hotkey),
			})
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the delegate directory and persist it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := s.delegateResolver().Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.DelegateSnapshot{
				Entries:   len(snap.Entries),
				FetchedAt: snap.FetchedAt,
				Source:    s.settings.DelegatesURL,
			})
		},
	}

	root.AddCommand(resolve)
	root.AddCommand(refresh)
	return root
}

// emitSuccess renders data in a success envelope on stdout.
func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta:    s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.renderOptions())
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	opts := s.renderOptions()
	if opts.Mode == "" {
		opts.Mode = "json"
	}
	opts.ResultsOnly = false
	opts.Select = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    clierr.ExitCode(err),
			Type:    clierr.CodeOf(err).String(),
			Message: message,
		},
		Meta: s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: uuid.NewString(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Mode:      s.settings.Mode,
		Wallet:    s.settings.DefaultWallet,
		Cache:     cacheMetaBypass(),
	}
}

func (s *runtimeState) renderOptions() out.Options {
	return out.Options{
		Mode:        s.settings.OutputMode,
		Select:      s.settings.SelectFields,
		ResultsOnly: s.settings.ResultsOnly,
	}
}

func (s *runtimeState) logger() *slog.Logger {
	if s.log == nil {
		s.log = newLogger(s.runner.stderr, false)
	}
	return s.log
}

func (s *runtimeState) openCache() (*cache.Store, error) {
	if s.cache != nil {
		return s.cache, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	if n, err := store.Prune(context.Background(), snapshotRetention); err != nil {
		s.logger().Warn("prune cache", "err", err)
	} else if n > 0 {
		s.logger().Debug("pruned cache snapshots", "count", n)
	}
	s.cache = store
	return store, nil
}

// delegateResolver never fails: without a cache the snapshot lives only in
// memory, and directory errors surface on lookup.
func (s *runtimeState) delegateResolver() *delegates.Resolver {
	if s.resolver != nil {
		return s.resolver
	}
	opts := delegates.Options{
		Aliases: s.settings.Aliases,
		TTL:     s.settings.DelegatesTTL,
		Logger:  s.logger().With("component", "delegates"),
		Now:     s.runner.now,
	}
	if url := strings.TrimSpace(s.settings.DelegatesURL); url != "" {
		opts.Directory = delegates.HTTPDirectory{URL: url, Client: httpx.New(s.settings.Timeout, s.settings.Retries)}
	}
	if c, err := s.openCache(); err != nil {
		s.logger().Warn("delegate snapshot will not persist", "err", err)
	} else {
		opts.Store = delegates.CacheStore{Cache: c}
	}
	s.resolver = delegates.New(opts)
	return s.resolver
}

func (s *runtimeState) historyStore() (ledger.Store, error) {
	if s.history != nil {
		return s.history, nil
	}
	store, err := ledger.Open(s.settings.HistoryBackend, s.settings.HistoryPath, s.settings.HistoryLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open history", err)
	}
	s.history = store
	return store, nil
}

func (s *runtimeState) chainClient(ctx context.Context) (chain.Client, error) {
	if s.chain != nil {
		return s.chain, nil
	}
	if strings.TrimSpace(s.settings.ChainEndpoint) == "" {
		return nil, clierr.New(clierr.CodeUsage, "chain endpoint is not configured (set chain.endpoint or --chain-endpoint)")
	}
	client, closeFn, err := s.runner.dial(ctx, s.settings.ChainEndpoint, s.settings.Timeout)
	if err != nil {
		return nil, err
	}
	s.chain, s.closeChain = client, closeFn
	return client, nil
}

func (s *runtimeState) botService(ctx context.Context) (*bot.Service, error) {
	if s.service != nil {
		return s.service, nil
	}
	client, err := s.chainClient(ctx)
	if err != nil {
		return nil, err
	}
	store, err := s.historyStore()
	if err != nil {
		return nil, err
	}
	settings := s.settings
	now := s.runner.now

	machine := confirm.NewMachine(confirm.NewStore(now), confirm.Policy{
		RequireConfirmation: settings.RequireConfirmation,
		Threshold:           settings.ConfirmOverTAO,
		TTL:                 settings.ConfirmTTL,
	}, now)
	wallets := make(map[string]bot.Wallet, len(settings.Wallets))
	for name, w := range settings.Wallets {
		wallets[name] = bot.Wallet{Name: name, Coldkey: w.Coldkey, DefaultNetuid: w.DefaultNetuid, ValidatorAll: w.ValidatorAll}
	}

	s.service = bot.New(bot.Options{
		Users:          policy.Users(settings.Users),
		AllowedActions: settings.AllowedActions,
		Machine:        machine,
		Resolver:       s.delegateResolver(),
		Executor: execution.New(client, store, execution.Options{
			SubmitTimeout: settings.SubmitTimeout,
			Logger:        s.logger().With("component", "execution"),
			Now:           now,
		}),
		Portfolio:        ledger.NewPortfolio(store, client, now),
		Subnets:          client,
		Stakes:           client,
		Wallets:          wallets,
		DefaultWallet:    settings.DefaultWallet,
		DefaultNetuid:    settings.DefaultNetuid,
		DefaultValidator: settings.DefaultValidator,
		DryRun:           settings.Mode == config.ModeDry,
		HistoryLimit:     settings.HistoryLimit,
		Logger:           s.logger().With("component", "bot"),
		Now:              now,
	})
	return s.service, nil
}

func (s *runtimeState) close() {
	if s.closeChain != nil {
		s.closeChain()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func chatReply(msg bot.Message, reply bot.Reply) model.ChatReply {
	payload := model.ChatReply{Platform: strings.ToLower(msg.Platform), UserID: msg.UserID, Text: reply.Text}
	for _, row := range reply.Buttons {
		buttons := make([]model.ChatButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, model.ChatButton{Text: b.Text, Action: b.Action})
		}
		payload.Buttons = append(payload.Buttons, buttons)
	}
	return payload
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
