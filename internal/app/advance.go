package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ggonzalez94/swapexec/internal/api"
	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/execution"
	"github.com/ggonzalez94/swapexec/internal/model"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// round is the result of one advance call plus the API calls it needed.
type round struct {
	result    execution.Result
	outcome   model.AdvanceOutcome
	providers []model.ProviderStatus
}

// advanceOnce fetches the next transaction when the active step has none,
// then moves the swap forward by one leg. The caller persists the swap.
func (s *runtimeState) advanceOnce(ctx context.Context, engine *execution.Engine, swap *execution.PendingSwap, resume bool) (round, error) {
	r := round{outcome: model.AdvanceOutcome{RequestID: swap.RequestID}}
	step := swap.ActiveStep()
	if step != nil && step.NeedsTransaction() && !swap.Terminal() && (resume || !swap.IsPaused) {
		start := time.Now()
		tx, err := s.ensureAPI().CreateTransaction(ctx, api.CreateTransactionRequest{
			RequestID: swap.RequestID,
			Step:      step.ID,
			UserSettings: api.UserSettings{
				Slippage:        swap.Settings.Slippage,
				InfiniteApprove: swap.Settings.InfiniteApprove,
			},
			Validations: api.CreateTransactionValidation{Balance: true, Fee: true, Approve: true},
		})
		r.providers = append(r.providers, apiStatus("tx/create", start, err))
		if err != nil {
			return r, err
		}
		if err := swap.SetTransaction(step.ID, tx); err != nil {
			return r, clierr.Wrap(clierr.CodePrecondition, "attach created transaction", err)
		}
		r.outcome.TxFetched = true
	}

	var (
		res execution.Result
		err error
	)
	if resume {
		res, err = engine.Resume(ctx, swap)
	} else {
		res, err = engine.Advance(ctx, swap)
	}
	if err != nil {
		if execution.IsPrecondition(err) {
			return r, clierr.Wrap(clierr.CodePrecondition, "advance swap", err)
		}
		return r, err
	}
	r.result = res
	r.outcome.Action = string(res.Action)
	r.outcome.StepID = res.StepID
	r.outcome.SwapStatus = string(res.SwapStatus)
	r.outcome.Message = swapMessage(*swap)
	if res.Failure != nil {
		r.outcome.Failure = &model.FailureDetail{
			Kind:      string(res.Failure.Kind),
			RPCKind:   string(res.Failure.RPCKind),
			Retryable: signer.Retryable(res.Failure.Kind),
		}
	}
	return r, nil
}

// failureError turns a failed step into the command error. Retryable
// failures are not errors; the swap stays running.
func failureError(swap execution.PendingSwap, res execution.Result) error {
	if res.Action != execution.ActionFailed || res.Failure == nil {
		return nil
	}
	info := res.Failure
	cause := &signer.Error{Kind: info.Kind, Message: info.Message, RPCKind: info.RPCKind, Root: info.Detail}
	code := clierr.CodeSwapFailed
	if info.Kind == signer.KindRejectedByUser {
		code = clierr.CodeRejected
	}
	return clierr.Wrap(code, fmt.Sprintf("swap %s step %d failed", swap.RequestID, res.StepID), cause)
}

func (s *runtimeState) advanceTimeout() time.Duration {
	return s.settings.WaitTimeout + 2*s.settings.Timeout
}

func (s *runtimeState) newSwapAdvanceCommand() *cobra.Command {
	var lockWait time.Duration
	var yes bool
	cmd := &cobra.Command{
		Use:         "advance <request-id>",
		Short:       "Run the next leg of a pending swap",
		Args:        cobra.ExactArgs(1),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "swap advance signs and broadcasts transactions; pass --yes")
			}
			return s.advanceCommand(cmd, args[0], lockWait, false)
		},
	}
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 30*time.Second, "How long to wait for another process advancing the swap")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm signing and broadcasting")
	return cmd
}

func (s *runtimeState) newSwapResumeCommand() *cobra.Command {
	var lockWait time.Duration
	var yes bool
	cmd := &cobra.Command{
		Use:         "resume <request-id>",
		Short:       "Clear the pause flag and advance from the same step",
		Args:        cobra.ExactArgs(1),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "swap resume signs and broadcasts transactions; pass --yes")
			}
			return s.advanceCommand(cmd, args[0], lockWait, true)
		},
	}
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 30*time.Second, "How long to wait for another process advancing the swap")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm signing and broadcasting")
	return cmd
}

func (s *runtimeState) advanceCommand(cmd *cobra.Command, requestID string, lockWait time.Duration, resume bool) error {
	swap, unlock, err := s.loadLocked(requestID, lockWait)
	if err != nil {
		return err
	}
	defer unlock()
	engine := s.newEngine()
	warnings := append([]string(nil), s.signerWarnings...)

	ctx, cancel := context.WithTimeout(context.Background(), s.advanceTimeout())
	defer cancel()
	r, err := s.advanceOnce(ctx, engine, &swap, resume)
	if saveErr := s.store.Save(swap); saveErr != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist pending swap", saveErr)
	}
	s.captureCommandDiagnostics(warnings, r.providers, false)
	if err != nil {
		return err
	}
	if err := failureError(swap, r.result); err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), r.outcome, warnings, cacheMetaBypass(), r.providers, false)
}

type runOptions struct {
	maxRounds int
	interval  time.Duration
	lockWait  time.Duration
	resume    bool
}

func (s *runtimeState) newSwapRunCommand() *cobra.Command {
	var opts runOptions
	var all, yes bool
	var concurrency int
	var metricsAddr string
	cmd := &cobra.Command{
		Use:         "run [request-id]",
		Short:       "Advance swaps until they finish, pause or wait for a wallet",
		Args:        cobra.MaximumNArgs(1),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "swap run signs and broadcasts transactions; pass --yes")
			}
			if all == (len(args) == 1) {
				return clierr.New(clierr.CodeUsage, "pass a request id or --all")
			}
			if opts.maxRounds <= 0 {
				return clierr.New(clierr.CodeUsage, "--max-rounds must be > 0")
			}
			if concurrency <= 0 {
				return clierr.New(clierr.CodeUsage, "--concurrency must be > 0")
			}
			if opts.interval <= 0 {
				opts.interval = s.settings.PollInterval
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			engine := s.newEngine()
			warnings := append([]string(nil), s.signerWarnings...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if strings.TrimSpace(metricsAddr) == "" {
				metricsAddr = s.settings.MetricsAddr
			}
			if strings.TrimSpace(metricsAddr) != "" {
				shutdown := s.serveMetrics(metricsAddr)
				defer shutdown()
			}

			if !all {
				report, providers, err := s.runSwap(ctx, engine, args[0], opts)
				s.captureCommandDiagnostics(warnings, providers, false)
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), report, warnings, cacheMetaBypass(), providers, false)
			}

			active, err := s.store.Active(0)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list active swaps", err)
			}
			reports := make([]model.RunReport, len(active))
			var mu sync.Mutex
			var providers []model.ProviderStatus
			g, gCtx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for i, swap := range active {
				g.Go(func() error {
					report, calls, err := s.runSwap(gCtx, engine, swap.RequestID, opts)
					if err != nil {
						report.RequestID = swap.RequestID
						report.Error = err.Error()
						s.logger.Warn("swap run failed", zap.String("request_id", swap.RequestID), zap.Error(err))
					}
					reports[i] = report
					mu.Lock()
					providers = append(providers, calls...)
					mu.Unlock()
					return nil
				})
			}
			_ = g.Wait()
			partial := false
			for _, report := range reports {
				if report.Error != "" {
					partial = true
					warnings = append(warnings, fmt.Sprintf("swap %s: %s", report.RequestID, report.Error))
				}
			}
			s.captureCommandDiagnostics(warnings, providers, partial)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), reports, warnings, cacheMetaBypass(), providers, partial)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Run every active swap")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm signing and broadcasting")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Clear the pause flag before the first round")
	cmd.Flags().IntVar(&opts.maxRounds, "max-rounds", 50, "Maximum advance rounds per swap")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Delay between status polls (default: poll_interval)")
	cmd.Flags().DurationVar(&opts.lockWait, "lock-wait", 30*time.Second, "How long to wait for another process advancing a swap")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Swaps advanced in parallel with --all")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

// runSwap advances one swap until it settles, pauses, waits for a wallet or
// runs out of rounds. Each round reloads the swap under its lock and saves it
// before releasing, so a pause from another process lands between rounds.
func (s *runtimeState) runSwap(ctx context.Context, engine *execution.Engine, requestID string, opts runOptions) (model.RunReport, []model.ProviderStatus, error) {
	report := model.RunReport{RequestID: requestID, Outcomes: []model.AdvanceOutcome{}}
	var providers []model.ProviderStatus
	for report.Rounds < opts.maxRounds {
		r, swap, err := s.runRound(ctx, engine, requestID, opts.lockWait, opts.resume && report.Rounds == 0)
		providers = append(providers, r.providers...)
		if swap != nil {
			report.Rounds++
			report.SwapStatus = string(swap.Status)
			report.Paused = swap.IsPaused
		}
		if err != nil {
			return report, providers, err
		}
		report.Outcomes = append(report.Outcomes, r.outcome)

		switch r.result.Action {
		case execution.ActionNeedsTransaction, execution.ActionStepSucceeded:
			continue
		case execution.ActionRetry, execution.ActionWaitingForStatus:
			if err := s.runner.sleep(ctx, opts.interval); err != nil {
				return report, providers, clierr.Wrap(clierr.CodeTimeout, "swap run interrupted", err)
			}
		case execution.ActionFailed:
			return report, providers, failureError(*swap, r.result)
		default:
			return report, providers, nil
		}
	}
	return report, providers, nil
}

// runRound holds the swap lock for one advance call. The returned swap is nil
// when it could not be loaded.
func (s *runtimeState) runRound(ctx context.Context, engine *execution.Engine, requestID string, lockWait time.Duration, resume bool) (round, *execution.PendingSwap, error) {
	swap, unlock, err := s.loadLocked(requestID, lockWait)
	if err != nil {
		return round{}, nil, err
	}
	defer unlock()

	roundCtx, cancel := context.WithTimeout(ctx, s.advanceTimeout())
	defer cancel()
	r, err := s.advanceOnce(roundCtx, engine, &swap, resume)
	if saveErr := s.store.Save(swap); saveErr != nil {
		return r, &swap, clierr.Wrap(clierr.CodeInternal, "persist pending swap", saveErr)
	}
	return r, &swap, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// serveMetrics exposes the engine metrics until the returned func is called.
func (s *runtimeState) serveMetrics(addr string) func() {
	s.ensureMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	s.logger.Info("metrics server started", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
