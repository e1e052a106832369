package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/llamarisk/internal/cache"
	"github.com/ggonzalez94/llamarisk/internal/config"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/id"
	"github.com/ggonzalez94/llamarisk/internal/logging"
	"github.com/ggonzalez94/llamarisk/internal/model"
	"github.com/ggonzalez94/llamarisk/internal/out"
	"github.com/ggonzalez94/llamarisk/internal/policy"
	"github.com/ggonzalez94/llamarisk/internal/schema"
	"github.com/ggonzalez94/llamarisk/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Runner struct {
	stdout       io.Writer
	stderr       io.Writer
	now          func() time.Time
	newProviders providerFactory
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout:       stdout,
		stderr:       stderr,
		now:          time.Now,
		newProviders: defaultProviders,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	logger        *zap.Logger
	providers     *providerSet
	root          *cobra.Command
	lastCommand   string
	lastKey       string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.logger.Debug("command failed", zap.String("command", state.lastCommand), zap.Error(err))
		state.renderError(err)
	}
	state.close()
	if err != nil {
		return clierr.ExitCode(err)
	}
	return 0
}

func (s *runtimeState) close() {
	if s.providers != nil && s.providers.close != nil {
		s.providers.close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	_ = s.logger.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "LLAMMA position risk and band analytics",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			logger, err := logging.New(settings.LogLevel, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.logger = logger

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			if s.providers == nil {
				set, err := s.runner.newProviders(settings, logger)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "initialize providers", err)
				}
				s.providers = set
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath, cache.WithClock(s.runner.now))
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			logger.Debug("command ready",
				zap.String("command", path),
				zap.Bool("cache", s.cache != nil),
				zap.Duration("timeout", settings.Timeout),
			)
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
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Strict, "strict", false, "Fail on partial results")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.LogFormat, "log-format", "", "Log format (console|json)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newPositionCommand())
	cmd.AddCommand(s.newBandsCommand())
	cmd.AddCommand(s.newGasCommand())
	cmd.AddCommand(s.newRevenueCommand())
	cmd.AddCommand(s.newCacheCommand())
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
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitStatic(cmd, data)
		},
	}
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List data providers and API key metadata (no keys required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitStatic(cmd, s.providers.infos)
		},
	}
	root.AddCommand(list)
	return root
}

type chainInfo struct {
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	CAIP2        string         `json:"caip2"`
	ChainID      int64          `json:"chain_id"`
	NativeSymbol string         `json:"native_symbol"`
	GasModel     id.GasFeeModel `json:"gas_model"`
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Supported chains"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List chains with LLAMMA markets and their gas fee model",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := []chainInfo{}
			for _, c := range id.Chains() {
				items = append(items, chainInfo{
					Name:         c.Name,
					Slug:         c.Slug,
					CAIP2:        c.CAIP2,
					ChainID:      c.EVMChainID,
					NativeSymbol: c.NativeSymbol,
					GasModel:     c.GasModel,
				})
			}
			return s.emitStatic(cmd, items)
		},
	}
	root.AddCommand(list)
	return root
}

// commandRequest describes one cacheable command invocation.
type commandRequest struct {
	path   string
	params map[string]any
	// key is the MarketKey string written to meta.key, empty for commands without one.
	key string
	ttl time.Duration
}

// fetchResult is what a fetch hands back to the envelope. Providers and Warnings are
// kept even when the fetch fails so the error envelope can report them.
type fetchResult struct {
	Data      any
	Providers []model.ProviderStatus
	Warnings  []string
	Partial   bool
}

// observe records a provider call that started at start.
func (r *fetchResult) observe(name string, start time.Time, err error) {
	r.Providers = append(r.Providers, model.ProviderStatus{
		Name:      name,
		Status:    clierr.ProviderStatus(err),
		LatencyMS: time.Since(start).Milliseconds(),
	})
}

// degrade adds a warning and marks the result partial.
func (r *fetchResult) degrade(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	r.Partial = true
}

type fetchFn func(ctx context.Context) (fetchResult, error)

type staleEntry struct {
	data       any
	age        time.Duration
	observedAt time.Time
	status     model.CacheStatus
}

func (e *staleEntry) ageAt(now time.Time) time.Duration {
	return e.age + now.Sub(e.observedAt)
}

// runCachedCommand serves a fresh cache hit, or fetches and writes the result back. A
// retryable fetch failure falls back to a stale entry inside the max-stale budget.
func (s *runtimeState) runCachedCommand(req commandRequest, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	s.lastKey = req.key
	entryKey := cacheKey(req.path, req.params)

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	var stale *staleEntry
	if s.cacheReadable() {
		cached, err := s.cache.Get(ctx, entryKey, s.settings.MaxStale)
		if err != nil {
			s.logger.Debug("cache read failed", zap.String("command", req.path), zap.Error(err))
		}
		if err == nil && cached.Hit {
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				status := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
				if !cached.Stale {
					return s.emitSuccess(req, fetchResult{Data: data}, status)
				}
				stale = &staleEntry{data: data, age: cached.Age, observedAt: s.runner.now(), status: status}
			}
		}
	}

	res, err := fetch(ctx)
	s.captureCommandDiagnostics(res.Warnings, res.Providers, res.Partial)
	if err != nil {
		if stale == nil || !clierr.Retryable(err) {
			return err
		}
		age := stale.ageAt(s.runner.now())
		if s.settings.NoStale {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleExceedsBudget(age, req.ttl, s.settings.MaxStale) {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		s.logger.Warn("serving stale cache entry", zap.String("command", req.path), zap.Duration("age", age), zap.Error(err))
		status := stale.status
		status.AgeMS = age.Milliseconds()
		fallback := fetchResult{
			Data:      stale.data,
			Providers: res.Providers,
			Warnings:  append(res.Warnings, "provider fetch failed; serving stale data within max-stale budget"),
		}
		s.captureCommandDiagnostics(fallback.Warnings, fallback.Providers, false)
		return s.emitSuccess(req, fallback, status)
	}

	if res.Partial && s.settings.Strict {
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}

	cacheStatus := cacheMetaMiss()
	if s.cacheReadable() {
		if payload, err := json.Marshal(res.Data); err == nil {
			err = s.cache.Set(ctx, cache.Entry{Command: req.path, Key: entryKey, Value: payload, TTL: req.ttl})
			if err != nil {
				s.logger.Debug("cache write failed", zap.String("command", req.path), zap.Error(err))
			} else {
				cacheStatus = model.CacheStatus{Status: "write"}
			}
		}
	}
	return s.emitSuccess(req, res, cacheStatus)
}

func (s *runtimeState) cacheReadable() bool {
	return s.settings.CacheEnabled && s.cache != nil
}

// emitStatic writes a result that never touches providers or the cache.
func (s *runtimeState) emitStatic(cmd *cobra.Command, data any) error {
	return s.emitSuccess(commandRequest{path: trimRootPath(cmd.CommandPath())}, fetchResult{Data: data}, cacheMetaBypass())
}

func (s *runtimeState) emitSuccess(req commandRequest, res fetchResult, cacheStatus model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     res.Data,
		Warnings: res.Warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   req.path,
			Key:       req.key,
			Providers: res.Providers,
			Cache:     cacheStatus,
			Partial:   res.Partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(err error) {
	commandPath := s.lastCommand
	if commandPath == "" {
		commandPath = version.CLIName
	}
	code := clierr.CodeOf(err)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok && cErr.Cause == nil {
		message = cErr.Message
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    int(code),
			Type:    code.Type(),
			Message: message,
		},
		Warnings: s.lastWarnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Key:       s.lastKey,
			Providers: s.lastProviders,
			Cache:     cacheMetaBypass(),
			Partial:   s.lastPartial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
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

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
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

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema", "providers", "providers list", "chains", "chains list":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
