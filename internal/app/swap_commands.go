package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/swapexec/internal/api"
	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/execution"
	"github.com/ggonzalez94/swapexec/internal/id"
	"github.com/ggonzalez94/swapexec/internal/model"
	"github.com/ggonzalez94/swapexec/internal/registry"
	"github.com/ggonzalez94/swapexec/internal/schema"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const localWalletType = "local"

func mutating() map[string]string {
	return map[string]string{schema.AnnotationMutates: "true"}
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	root := &cobra.Command{Use: "swap", Short: "Create, advance and inspect pending swaps"}
	root.AddCommand(s.newSwapCreateCommand())
	root.AddCommand(s.newSwapAdvanceCommand())
	root.AddCommand(s.newSwapRunCommand())
	root.AddCommand(s.newSwapPauseCommand())
	root.AddCommand(s.newSwapResumeCommand())
	root.AddCommand(s.newSwapShowCommand())
	root.AddCommand(s.newSwapListCommand())
	root.AddCommand(s.newSwapForgetCommand())
	return root
}

func (s *runtimeState) newSwapCreateCommand() *cobra.Command {
	var fromArg, toArg, amountArg, amountBaseArg, slippageArg string
	var decimals int
	var walletArgs []string
	var disableSwappers string
	var disableMultiStep, infiniteApprove bool
	cmd := &cobra.Command{
		Use:         "create",
		Short:       "Quote the best route and persist it as a pending swap",
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := api.ParseAsset(fromArg)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse --from", err)
			}
			to, err := api.ParseAsset(toArg)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse --to", err)
			}
			_, amount, err := id.NormalizeAmount(amountBaseArg, amountArg, decimals)
			if err != nil {
				return err
			}
			slippage, err := id.ParseSlippage(slippageArg)
			if err != nil {
				return err
			}
			explicit, err := parseWalletBindings(walletArgs)
			if err != nil {
				return err
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			s.ensureSigners()
			warnings := append([]string(nil), s.signerWarnings...)

			wallets := s.bindWallets(explicit, from.Blockchain, to.Blockchain)
			routeWallets := make(map[string]string, len(wallets))
			for chain, w := range wallets {
				routeWallets[chain] = w.Address
			}
			excluded := splitCSV(disableSwappers)

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			resp, err := s.ensureAPI().BestRoute(ctx, api.BestRouteRequest{
				From:             from,
				To:               to,
				Amount:           amount,
				Slippage:         slippage,
				Wallets:          routeWallets,
				ExcludeSwappers:  excluded,
				DisableMultiStep: disableMultiStep,
			})
			statuses := []model.ProviderStatus{apiStatus("routing/best", start, err)}
			s.captureCommandDiagnostics(warnings, statuses, false)
			if err != nil {
				return err
			}

			steps := api.StepRoutes(*resp.Result)
			chains := make([]string, 0, len(steps)*2)
			for _, st := range steps {
				chains = append(chains, st.FromBlockchain, st.ToBlockchain)
			}
			wallets = s.bindWallets(wallets, chains...)
			for _, chain := range chains {
				if _, ok := wallets[strings.ToUpper(chain)]; !ok {
					warnings = append(warnings, fmt.Sprintf("no wallet bound for %s; steps on it will wait for one", chain))
				}
			}
			for _, sw := range resp.Result.Swaps {
				warnings = append(warnings, sw.Warnings...)
			}

			requestID := strings.TrimSpace(resp.RequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			swap, err := execution.NewPendingSwap(execution.NewSwapInput{
				RequestID:   requestID,
				InputAmount: amount,
				Steps:       steps,
				Wallets:     wallets,
				Settings: execution.Settings{
					Slippage:           slippage,
					DisabledSwapperIDs: excluded,
					InfiniteApprove:    infiniteApprove,
				},
				Now: s.runner.now(),
			})
			if err != nil {
				return err
			}
			if err := s.store.Save(swap); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist pending swap", err)
			}
			s.logger.Info("swap created")
			s.captureCommandDiagnostics(dedupe(warnings), statuses, false)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), swap, dedupe(warnings), cacheMetaBypass(), statuses, false)
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "Source asset as BLOCKCHAIN.SYMBOL[--ADDRESS]")
	cmd.Flags().StringVar(&toArg, "to", "", "Destination asset as BLOCKCHAIN.SYMBOL[--ADDRESS]")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Input amount in decimal units")
	cmd.Flags().StringVar(&amountBaseArg, "amount-base", "", "Input amount in base units")
	cmd.Flags().IntVar(&decimals, "decimals", 18, "Source token decimals, used with --amount-base")
	cmd.Flags().StringVar(&slippageArg, "slippage", "1", "Max slippage percentage")
	cmd.Flags().StringArrayVar(&walletArgs, "wallet", nil, "Wallet binding CHAIN=[TYPE:]ADDRESS (repeatable)")
	cmd.Flags().StringVar(&disableSwappers, "disable-swappers", "", "Swapper ids to exclude (comma-separated)")
	cmd.Flags().BoolVar(&disableMultiStep, "disable-multi-step", false, "Only accept single-step routes")
	cmd.Flags().BoolVar(&infiniteApprove, "infinite-approve", false, "Request unlimited token approvals")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (s *runtimeState) newSwapPauseCommand() *cobra.Command {
	var lockWait time.Duration
	cmd := &cobra.Command{
		Use:         "pause <request-id>",
		Short:       "Stop advancing a pending swap",
		Args:        cobra.ExactArgs(1),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			swap, unlock, err := s.loadLocked(args[0], lockWait)
			if err != nil {
				return err
			}
			defer unlock()
			if err := s.newEngine().Pause(&swap); err != nil {
				return err
			}
			if err := s.store.Save(swap); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist pending swap", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), summarizeSwap(swap), nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 30*time.Second, "How long to wait for another process advancing the swap")
	return cmd
}

func (s *runtimeState) newSwapShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Print the full pending swap record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureStore(); err != nil {
				return err
			}
			swap, err := s.store.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), swap, nil, cacheMetaBypass(), nil, false)
		},
	}
}

func (s *runtimeState) newSwapListCommand() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending swaps, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			switch execution.SwapStatus(status) {
			case "", execution.SwapStatusRunning, execution.SwapStatusSuccess, execution.SwapStatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, "--status must be running, success or failed")
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			swaps, err := s.store.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list swaps", err)
			}
			items := make([]model.SwapSummary, 0, len(swaps))
			for _, swap := range swaps {
				items = append(items, summarizeSwap(swap))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running|success|failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum swaps to return")
	return cmd
}

func (s *runtimeState) newSwapForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "forget <request-id>",
		Short:       "Delete a finished swap from the local store",
		Args:        cobra.ExactArgs(1),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureStore(); err != nil {
				return err
			}
			if err := s.store.Delete(args[0]); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{"request_id": args[0], "deleted": true}, nil, cacheMetaBypass(), nil, false)
		},
	}
}

// loadLocked opens the store, takes the per-swap lock and reads the swap
// under it. The returned unlock must always be called.
func (s *runtimeState) loadLocked(requestID string, wait time.Duration) (execution.PendingSwap, func(), error) {
	if err := s.ensureStore(); err != nil {
		return execution.PendingSwap{}, nil, err
	}
	unlock, err := s.store.LockSwap(context.Background(), requestID, wait)
	if err != nil {
		return execution.PendingSwap{}, nil, err
	}
	swap, err := s.store.Get(requestID)
	if err != nil {
		unlock()
		return execution.PendingSwap{}, nil, err
	}
	return swap, unlock, nil
}

// bindWallets fills chains that have no binding with the address of the
// local signer for that chain's transaction kind.
func (s *runtimeState) bindWallets(bound map[string]execution.WalletBinding, chains ...string) map[string]execution.WalletBinding {
	out := make(map[string]execution.WalletBinding, len(bound)+len(chains))
	for chain, w := range bound {
		out[chain] = w
	}
	reg := s.ensureSigners()
	for _, chain := range chains {
		chain = strings.ToUpper(strings.TrimSpace(chain))
		if chain == "" {
			continue
		}
		if _, ok := out[chain]; ok {
			continue
		}
		info, ok := registry.LookupChain(chain)
		if !ok {
			continue
		}
		sgn, err := reg.Get(info.Type)
		if err != nil {
			continue
		}
		if a, ok := sgn.(signer.Addresser); ok && a.Address() != "" {
			out[chain] = execution.WalletBinding{WalletType: localWalletType, Address: a.Address()}
		}
	}
	return out
}

// parseWalletBindings reads CHAIN=[TYPE:]ADDRESS pairs.
func parseWalletBindings(args []string) (map[string]execution.WalletBinding, error) {
	out := make(map[string]execution.WalletBinding, len(args))
	for _, arg := range args {
		chain, rest, ok := strings.Cut(strings.TrimSpace(arg), "=")
		chain = strings.ToUpper(strings.TrimSpace(chain))
		rest = strings.TrimSpace(rest)
		if !ok || chain == "" || rest == "" {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid --wallet %q (expected CHAIN=[TYPE:]ADDRESS)", arg))
		}
		binding := execution.WalletBinding{WalletType: localWalletType, Address: rest}
		if walletType, addr, found := strings.Cut(rest, ":"); found {
			if strings.TrimSpace(walletType) == "" || strings.TrimSpace(addr) == "" {
				return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid --wallet %q (expected CHAIN=[TYPE:]ADDRESS)", arg))
			}
			binding = execution.WalletBinding{WalletType: strings.TrimSpace(walletType), Address: strings.TrimSpace(addr)}
		}
		if _, dup := out[chain]; dup {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("duplicate --wallet for %s", chain))
		}
		out[chain] = binding
	}
	return out, nil
}

func summarizeSwap(swap execution.PendingSwap) model.SwapSummary {
	summary := model.SwapSummary{
		RequestID:   swap.RequestID,
		Status:      string(swap.Status),
		Paused:      swap.IsPaused,
		InputAmount: swap.InputAmount,
		Steps:       len(swap.Steps),
		Message:     swapMessage(swap),
		CreatedAt:   swap.CreationTime,
		FinishedAt:  swap.FinishTime,
	}
	if n := len(swap.Steps); n > 0 {
		first, last := swap.Steps[0], swap.Steps[n-1]
		summary.From = first.FromBlockchain + "." + first.FromSymbol
		summary.To = last.ToBlockchain + "." + last.ToSymbol
		summary.OutputAmount = last.OutputAmount
	}
	if step := swap.ActiveStep(); step != nil && !swap.Terminal() {
		summary.ActiveStep = step.ID
		summary.ActiveStatus = string(step.DisplayStatus())
	}
	return summary
}

func swapMessage(swap execution.PendingSwap) string {
	if swap.NetworkStatusExtraMessage != "" {
		return swap.NetworkStatusExtraMessage
	}
	return swap.ExtraMessage
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
