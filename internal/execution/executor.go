package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"go.uber.org/zap"
)

type Action string

const (
	ActionNone              Action = "none"
	ActionPaused            Action = "paused"
	ActionWaitingForNetwork Action = "waiting_for_network"
	ActionNeedsTransaction  Action = "needs_transaction"
	ActionWaitingForStatus  Action = "waiting_for_status"
	ActionStepSucceeded     Action = "step_succeeded"
	ActionRetry             Action = "retry"
	ActionFailed            Action = "failed"
)

// Result describes what a single Advance call did.
type Result struct {
	Action     Action       `json:"action"`
	StepID     int          `json:"step_id,omitempty"`
	SwapStatus SwapStatus   `json:"swap_status"`
	Failure    *signer.Info `json:"failure,omitempty"`
}

type Options struct {
	Logger         *zap.Logger
	Reporter       Reporter
	StatusChecker  StatusChecker
	NetworkChecker NetworkChecker
	Metrics        *Metrics
	// ChainIDs maps a blockchain name to the chain id handed to signers.
	ChainIDs      map[string]string
	Confirmations int
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Logger:        zap.NewNop(),
		Confirmations: 1,
		Now:           time.Now,
	}
}

// Engine drives pending swaps one step at a time. It holds no per-swap
// state; callers serialize Advance calls per request id.
type Engine struct {
	signers SignerLookup
	opts    Options
	logger  *zap.Logger
}

func NewEngine(signers SignerLookup, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if opts.Confirmations <= 0 {
		opts.Confirmations = defaults.Confirmations
	}
	return &Engine{signers: signers, opts: opts, logger: opts.Logger}
}

func (e *Engine) now() time.Time { return e.opts.Now() }

// Advance runs the next pending leg of the first unfinished step.
func (e *Engine) Advance(ctx context.Context, swap *PendingSwap) (Result, error) {
	if swap == nil {
		return Result{}, PreconditionError("missing swap")
	}
	if swap.Terminal() {
		return e.result(swap, ActionNone, 0, nil), nil
	}
	if swap.IsPaused {
		return e.result(swap, ActionPaused, 0, nil), nil
	}
	step := swap.ActiveStep()
	if step == nil || step.Terminal() {
		e.finish(swap)
		id := 0
		if step != nil {
			id = step.ID
		}
		return e.result(swap, ActionNone, id, nil), nil
	}
	l, tx, err := step.pendingLeg()
	if err != nil {
		return Result{}, err
	}
	log := e.logger.With(
		zap.String("request_id", swap.RequestID),
		zap.Int("step", step.ID),
		zap.String("tx_type", string(tx.Kind())),
	)
	if e.waitForNetwork(ctx, swap, step, tx) {
		log.Info("waiting for wallet network", zap.String("network_status", string(step.NetworkStatus)))
		return e.result(swap, ActionWaitingForNetwork, step.ID, nil), nil
	}

	s, err := e.signers.Get(tx.Kind())
	if err != nil {
		failure := signer.New(signer.KindOperationUnsupported, fmt.Sprintf("no signer registered for %s transactions", tx.Kind()), err)
		return e.handleFailure(ctx, swap, step, tx.Kind(), failure, log), nil
	}

	if l == legApproval {
		if failure := e.runLeg(ctx, swap, step, s, legApproval, tx, log); failure != nil {
			return e.handleFailure(ctx, swap, step, tx.Kind(), failure, log), nil
		}
		if step.Transaction.Empty() {
			return e.result(swap, ActionNeedsTransaction, step.ID, nil), nil
		}
		tx = step.Transaction.Tx
	}
	if failure := e.runLeg(ctx, swap, step, s, legMain, tx, log); failure != nil {
		return e.handleFailure(ctx, swap, step, tx.Kind(), failure, log), nil
	}
	return e.complete(ctx, swap, step, tx.Kind(), log), nil
}

// Pause stops further advancement. A signer call already in flight settles first.
func (e *Engine) Pause(swap *PendingSwap) error {
	if swap == nil {
		return PreconditionError("missing swap")
	}
	if swap.Terminal() {
		return nil
	}
	swap.IsPaused = true
	e.logger.Info("swap paused", zap.String("request_id", swap.RequestID))
	return nil
}

// Resume clears the pause flag and advances from the same step.
func (e *Engine) Resume(ctx context.Context, swap *PendingSwap) (Result, error) {
	if swap == nil {
		return Result{}, PreconditionError("missing swap")
	}
	swap.IsPaused = false
	e.logger.Info("swap resumed", zap.String("request_id", swap.RequestID))
	return e.Advance(ctx, swap)
}

// runLeg sends the leg's transaction unless a hash is already recorded, then
// waits for confirmation when the signer supports it.
func (e *Engine) runLeg(ctx context.Context, swap *PendingSwap, step *PendingSwapStep, s signer.Signer, l leg, tx txs.Transaction, log *zap.Logger) *signer.Error {
	address, chainID := e.binding(swap, step, tx)
	sent := signer.Result{Hash: step.legHash(l)}
	if sent.Hash == "" {
		if err := step.start(e.now()); err != nil {
			return asFailure(err)
		}
		swap.HasAlreadyProceededToSign = true
		start := time.Now()
		res, err := s.SignAndSendTx(ctx, tx, address, chainID)
		e.opts.Metrics.observeCall(tx.Kind(), "send", start)
		if err != nil {
			swap.HasAlreadyProceededToSign = false
			return signer.Classify(signer.KindSendTxError, err)
		}
		if strings.TrimSpace(res.Hash) == "" {
			return signer.AssertionFailed("signer returned an empty transaction hash")
		}
		if err := step.recordBroadcast(l, res.Hash, e.now()); err != nil {
			return asFailure(err)
		}
		log.Info("transaction sent", zap.String("leg", l.String()), zap.String("tx_hash", res.Hash))
		sent = res
	}

	if w, ok := s.(signer.Waiter); ok {
		start := time.Now()
		res, err := w.Wait(ctx, sent.Hash, chainID, sent.Response, e.opts.Confirmations)
		e.opts.Metrics.observeCall(tx.Kind(), "wait", start)
		if err != nil {
			return signer.Classify(signer.KindSendTxError, err)
		}
		if res.Hash != "" && res.Hash != sent.Hash {
			log.Info("transaction replaced", zap.String("leg", l.String()), zap.String("old_hash", sent.Hash), zap.String("tx_hash", res.Hash))
			if l == legApproval {
				step.ApprovalTransactionID = res.Hash
			} else {
				step.ExecutedTransactionID = res.Hash
			}
		}
	}

	if l == legApproval {
		if err := step.approve(); err != nil {
			return asFailure(err)
		}
		log.Info("approval confirmed", zap.String("tx_hash", step.ApprovalTransactionID))
	}
	swap.HasAlreadyProceededToSign = false
	return nil
}

func (e *Engine) complete(ctx context.Context, swap *PendingSwap, step *PendingSwapStep, kind txs.Type, log *zap.Logger) Result {
	if e.opts.StatusChecker != nil {
		update, err := e.opts.StatusChecker.CheckStatus(ctx, swap.RequestID, step.ID, step.ExecutedTransactionID)
		if err != nil {
			swap.setMessage(SeverityWarning, "Unable to check the step status", "", err.Error(), e.now())
			log.Warn("status check failed", zap.Error(err))
			return e.result(swap, ActionRetry, step.ID, nil)
		}
		applyUpdate(step, update)
		switch update.Outcome {
		case OutcomeSuccess:
		case OutcomeFailed:
			failure := signer.New(signer.KindTxFailedInBlockchain, "", strings.TrimSpace(update.Message))
			return e.handleFailure(ctx, swap, step, kind, failure, log)
		default:
			swap.setMessage(SeverityInfo, "Waiting for the step to complete", "", update.Message, e.now())
			return e.result(swap, ActionWaitingForStatus, step.ID, nil)
		}
	}
	if err := step.succeed(); err != nil {
		return e.handleFailure(ctx, swap, step, kind, asFailure(err), log)
	}
	swap.HasAlreadyProceededToSign = false
	swap.clearMessage()
	e.opts.Metrics.observeStep(kind, StepStatusSuccess)
	log.Info("step succeeded", zap.String("tx_hash", step.ExecutedTransactionID), zap.String("output_amount", step.OutputAmount))
	e.finish(swap)
	return e.result(swap, ActionStepSucceeded, step.ID, nil)
}

// handleFailure keeps the step running for retryable kinds and fails the
// step otherwise.
func (e *Engine) handleFailure(ctx context.Context, swap *PendingSwap, step *PendingSwapStep, kind txs.Type, failure *signer.Error, log *zap.Logger) Result {
	info := failure.Info()
	e.opts.Metrics.observeFailure(kind, failure)
	e.report(ctx, swap, step, failure)
	fields := []zap.Field{
		zap.String("kind", string(failure.Kind)),
		zap.String("rpc_kind", string(failure.RPCKind)),
		zap.String("detail", info.Detail),
	}
	if signer.Retryable(failure.Kind) {
		swap.setMessage(SeverityWarning, info.Message, string(failure.Kind), info.Detail, e.now())
		log.Warn("signer call failed", fields...)
		return e.result(swap, ActionRetry, step.ID, failure)
	}

	if failure.Kind == signer.KindUnexpectedBehaviour {
		fields = append(fields,
			zap.Any("root", failure.Root),
			zap.String("trace", failure.Trace),
			zap.String("display_status", string(step.DisplayStatus())),
			zap.String("approval_tx", step.ApprovalTransactionID),
			zap.String("tx_hash", step.ExecutedTransactionID),
		)
		log.Error("unexpected signer behaviour", fields...)
	} else {
		log.Warn("step failed", fields...)
	}
	if err := step.fail(info); err != nil {
		log.Error("mark step failed", zap.Error(err))
	}
	swap.HasAlreadyProceededToSign = false
	swap.setMessage(SeverityError, info.Message, string(failure.Kind), info.Detail, e.now())
	e.opts.Metrics.observeStep(kind, StepStatusFailed)
	e.finish(swap)
	return e.result(swap, ActionFailed, step.ID, failure)
}

func (e *Engine) waitForNetwork(ctx context.Context, swap *PendingSwap, step *PendingSwapStep, tx txs.Transaction) bool {
	chain := stepChain(step, tx)
	var status NetworkStatus
	detail := ""
	wallet, ok := swap.Wallet(chain)
	switch {
	case !ok || strings.TrimSpace(wallet.Address) == "":
		status = NetworkWaitingForConnectingWallet
		detail = fmt.Sprintf("no wallet is bound to %s", chain)
	case e.opts.NetworkChecker != nil:
		st, err := e.opts.NetworkChecker.Check(ctx, chain, wallet)
		if err != nil {
			status = NetworkWaitingForNetworkChange
			detail = err.Error()
		} else {
			status = st
		}
	}
	if status == "" || status == NetworkChanged {
		if step.NetworkStatus != "" {
			step.NetworkStatus = NetworkChanged
			swap.NetworkStatusExtraMessage = ""
			swap.NetworkStatusExtraMessageDetail = ""
		}
		return false
	}
	step.NetworkStatus = status
	swap.NetworkStatusExtraMessage = networkMessage(status, chain)
	swap.NetworkStatusExtraMessageDetail = detail
	swap.LastNotificationTime = formatTime(e.now())
	return true
}

func networkMessage(status NetworkStatus, chain string) string {
	switch status {
	case NetworkWaitingForConnectingWallet:
		return fmt.Sprintf("Please connect a wallet for %s", chain)
	case NetworkWaitingForQueue:
		return "Waiting for other running tasks to be finished"
	case NetworkWaitingForNetworkChange:
		return fmt.Sprintf("Please change your wallet network to %s", chain)
	default:
		return string(status)
	}
}

func (e *Engine) binding(swap *PendingSwap, step *PendingSwapStep, tx txs.Transaction) (string, string) {
	chain := stepChain(step, tx)
	wallet, _ := swap.Wallet(chain)
	return wallet.Address, e.opts.ChainIDs[chain]
}

func (e *Engine) report(ctx context.Context, swap *PendingSwap, step *PendingSwapStep, failure *signer.Error) {
	if e.opts.Reporter == nil {
		return
	}
	walletType := ""
	if w, ok := swap.Wallet(step.FromBlockchain); ok {
		walletType = w.WalletType
	}
	r := FailureReport{
		RequestID: swap.RequestID,
		StepID:    step.ID,
		EventType: EventType(failure.Kind),
		Reason:    failure.Detail(),
		Wallet:    walletType,
		ErrorCode: string(failure.Kind),
	}
	if failure.RPCKind != "" {
		r.Data = map[string]string{"rpcKind": string(failure.RPCKind)}
	}
	if err := e.opts.Reporter.Report(ctx, r); err != nil {
		e.logger.Debug("report failure", zap.String("request_id", swap.RequestID), zap.Error(err))
	}
}

func (e *Engine) finish(swap *PendingSwap) {
	wasTerminal := swap.Terminal()
	swap.refreshStatus(e.now())
	if !wasTerminal && swap.Terminal() {
		e.opts.Metrics.observeSwap(swap.Status)
		e.logger.Info("swap finished", zap.String("request_id", swap.RequestID), zap.String("status", string(swap.Status)))
	}
}

func (e *Engine) result(swap *PendingSwap, action Action, stepID int, failure *signer.Error) Result {
	res := Result{Action: action, StepID: stepID, SwapStatus: swap.Status}
	if failure != nil {
		info := failure.Info()
		res.Failure = &info
	}
	return res
}

func applyUpdate(step *PendingSwapStep, update StatusUpdate) {
	if update.OutputAmount != "" {
		step.OutputAmount = update.OutputAmount
	}
	if len(update.ExplorerURLs) > 0 {
		step.ExplorerURLs = append([]ExplorerURL(nil), update.ExplorerURLs...)
	}
	if update.DiagnosisURL != "" {
		step.DiagnosisURL = update.DiagnosisURL
	}
}

func stepChain(step *PendingSwapStep, tx txs.Transaction) string {
	if strings.TrimSpace(step.FromBlockchain) != "" {
		return step.FromBlockchain
	}
	return tx.Blockchain()
}

func asFailure(err error) *signer.Error {
	if typed, ok := signer.AsError(err); ok {
		return typed
	}
	return signer.New(signer.KindUnexpectedBehaviour, "", err)
}
