package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"github.com/prometheus/client_golang/prometheus"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSigner struct {
	mu       sync.Mutex
	prefix   string
	sendErrs []error
	waitErrs []error
	hashes   []string
	sent     []txs.Transaction
	waited   []string
	chainIDs []string
}

func (f *fakeSigner) SignMessage(context.Context, string, string, string) (string, error) {
	return "sig", nil
}

func (f *fakeSigner) SignAndSendTx(_ context.Context, tx txs.Transaction, _ string, chainID string) (signer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainIDs = append(f.chainIDs, chainID)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return signer.Result{}, err
		}
	}
	f.sent = append(f.sent, tx)
	hash := fmt.Sprintf("%s-%d", f.prefix, len(f.sent))
	if len(f.hashes) > 0 {
		hash = f.hashes[0]
		f.hashes = f.hashes[1:]
	}
	return signer.Result{Hash: hash}, nil
}

func (f *fakeSigner) Wait(_ context.Context, hash, _ string, _ any, _ int) (signer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = append(f.waited, hash)
	if len(f.waitErrs) > 0 {
		err := f.waitErrs[0]
		f.waitErrs = f.waitErrs[1:]
		if err != nil {
			return signer.Result{}, err
		}
	}
	return signer.Result{Hash: hash}, nil
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []FailureReport
}

func (f *fakeReporter) Report(_ context.Context, r FailureReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

type fakeStatusChecker struct {
	updates []StatusUpdate
	err     error
	calls   int
}

func (f *fakeStatusChecker) CheckStatus(context.Context, string, int, string) (StatusUpdate, error) {
	f.calls++
	if f.err != nil {
		return StatusUpdate{}, f.err
	}
	update := f.updates[0]
	if len(f.updates) > 1 {
		f.updates = f.updates[1:]
	}
	return update, nil
}

func strPtr(v string) *string { return &v }

func evmTx(approval bool) *txs.EvmTransaction {
	return &txs.EvmTransaction{
		Base:         txs.Base{Type: txs.TypeEVM, BlockChain: "ETH"},
		IsApprovalTx: approval,
		To:           "0x0000000000000000000000000000000000000001",
		Data:         strPtr("0x"),
		Value:        strPtr("0x0"),
	}
}

func cosmosTx() *txs.CosmosTransaction {
	return &txs.CosmosTransaction{
		Base:              txs.Base{Type: txs.TypeCosmos, BlockChain: "COSMOS"},
		FromWalletAddress: "cosmos1sender",
		Data:              txs.CosmosMessage{SignType: "DIRECT", ChainID: strPtr("cosmoshub-4")},
	}
}

func newTestSwap(t *testing.T, routes ...StepRoute) *PendingSwap {
	t.Helper()
	swap, err := NewPendingSwap(NewSwapInput{
		RequestID:   "req-1",
		InputAmount: "100",
		Steps:       routes,
		Wallets: map[string]WalletBinding{
			"ETH":    {WalletType: "local", Address: "0x00000000000000000000000000000000000000aa"},
			"COSMOS": {WalletType: "local", Address: "cosmos1sender"},
		},
		Settings: Settings{Slippage: "1"},
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("NewPendingSwap failed: %v", err)
	}
	return &swap
}

func newTestEngine(t *testing.T, reg *signer.Registry, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	opts.ChainIDs = map[string]string{"ETH": "1"}
	if mutate != nil {
		mutate(&opts)
	}
	return NewEngine(reg, opts)
}

func registryWith(t *testing.T, signers map[txs.Type]signer.Signer) *signer.Registry {
	t.Helper()
	reg := signer.NewRegistry(signer.Config{})
	for kind, s := range signers {
		if err := reg.Register(kind, s); err != nil {
			t.Fatalf("Register(%s) failed: %v", kind, err)
		}
	}
	return reg
}

func TestAdvanceTwoStepSwapAcrossChains(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	cosmos := &fakeSigner{prefix: "cosmos"}
	reg := registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm, txs.TypeCosmos: cosmos})
	engine := newTestEngine(t, reg, nil)

	swap := newTestSwap(t,
		StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH", SwapperID: "uniswap"},
		StepRoute{FromBlockchain: "COSMOS", ToBlockchain: "OSMOSIS", SwapperID: "ibc"},
	)
	if err := swap.SetTransaction(1, evmTx(true)); err != nil {
		t.Fatalf("set approval: %v", err)
	}
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("set main: %v", err)
	}
	if err := swap.SetTransaction(2, cosmosTx()); err != nil {
		t.Fatalf("set cosmos: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance step 1 failed: %v", err)
	}
	if res.Action != ActionStepSucceeded || res.StepID != 1 {
		t.Fatalf("unexpected result for step 1: %+v", res)
	}
	if swap.Status != SwapStatusRunning {
		t.Fatalf("swap must keep running after step 1, got %s", swap.Status)
	}
	step1 := swap.Step(1)
	if step1.Status != StepStatusSuccess || step1.ApprovalStatus != ApprovalApproved {
		t.Fatalf("unexpected step 1 state: status=%s approval=%s", step1.Status, step1.ApprovalStatus)
	}
	if step1.ApprovalTransactionID != "0xevm-1" || step1.ExecutedTransactionID != "0xevm-2" {
		t.Fatalf("unexpected step 1 hashes: approval=%s main=%s", step1.ApprovalTransactionID, step1.ExecutedTransactionID)
	}
	if len(evm.sent) != 2 || !txs.IsApproval(evm.sent[0]) || txs.IsApproval(evm.sent[1]) {
		t.Fatalf("expected approval then swap on the evm signer, got %d sends", len(evm.sent))
	}
	if len(evm.waited) != 2 || evm.waited[0] != "0xevm-1" {
		t.Fatalf("expected the approval to be confirmed first, got %v", evm.waited)
	}
	if evm.chainIDs[0] != "1" {
		t.Fatalf("expected chain id 1 for ETH, got %q", evm.chainIDs[0])
	}
	if swap.Step(2).Status != StepStatusCreated || len(cosmos.sent) != 0 {
		t.Fatal("step 2 must not start in the same advance")
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance step 2 failed: %v", err)
	}
	if res.Action != ActionStepSucceeded || res.StepID != 2 {
		t.Fatalf("unexpected result for step 2: %+v", res)
	}
	if swap.Status != SwapStatusSuccess || res.SwapStatus != SwapStatusSuccess {
		t.Fatalf("expected swap success, got %s", swap.Status)
	}
	if swap.FinishTime == "" {
		t.Fatal("expected finish time on a terminal swap")
	}
	if swap.Step(2).ExecutedTransactionID != "cosmos-1" {
		t.Fatalf("unexpected cosmos hash: %s", swap.Step(2).ExecutedTransactionID)
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance on finished swap failed: %v", err)
	}
	if res.Action != ActionNone {
		t.Fatalf("expected no-op on a finished swap, got %s", res.Action)
	}
	if len(evm.sent) != 2 || len(cosmos.sent) != 1 {
		t.Fatal("advancing a finished swap must not call signers")
	}
}

func TestAdvanceRunsApprovalBeforeMainWhateverTheSetOrder(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("set main: %v", err)
	}
	if err := swap.SetTransaction(1, evmTx(true)); err != nil {
		t.Fatalf("set approval: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(evm.sent) != 2 || !txs.IsApproval(evm.sent[0]) || txs.IsApproval(evm.sent[1]) {
		t.Fatalf("expected approval sent before the swap, got %d sends", len(evm.sent))
	}
	if len(evm.waited) != 2 || evm.waited[0] != "0xevm-1" {
		t.Fatalf("expected the approval hash confirmed first, got %v", evm.waited)
	}
	step := swap.Step(1)
	if step.ApprovalTransactionID != "0xevm-1" || step.ExecutedTransactionID != "0xevm-2" {
		t.Fatalf("unexpected hashes: approval=%s main=%s", step.ApprovalTransactionID, step.ExecutedTransactionID)
	}
}

func TestAdvancePausedSwapIsNoop(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}
	if err := engine.Pause(swap); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionPaused || len(evm.sent) != 0 {
		t.Fatalf("paused swap must not advance: %+v sends=%d", res, len(evm.sent))
	}
	if swap.Step(1).Status != StepStatusCreated {
		t.Fatalf("paused step must stay created, got %s", swap.Step(1).Status)
	}

	res, err = engine.Resume(context.Background(), swap)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if swap.IsPaused || res.Action != ActionStepSucceeded {
		t.Fatalf("resume must continue the same step: %+v paused=%v", res, swap.IsPaused)
	}
}

func TestAdvanceUserRejectionFailsStep(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm", sendErrs: []error{errors.New("MetaMask Tx Signature: User denied transaction signature.")}}
	reporter := &fakeReporter{}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), func(o *Options) {
		o.Reporter = reporter
	})
	swap := newTestSwap(t,
		StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"},
		StepRoute{FromBlockchain: "COSMOS", ToBlockchain: "OSMOSIS"},
	)
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionFailed || res.Failure == nil || res.Failure.Kind != signer.KindRejectedByUser {
		t.Fatalf("expected rejected failure, got %+v", res)
	}
	step := swap.Step(1)
	if step.Status != StepStatusFailed || step.Error == nil || step.Error.Kind != signer.KindRejectedByUser {
		t.Fatalf("unexpected step state: %+v", step)
	}
	if swap.Status != SwapStatusFailed || swap.ExtraMessageSeverity != SeverityError {
		t.Fatalf("expected failed swap with error message, got %s/%s", swap.Status, swap.ExtraMessageSeverity)
	}
	if swap.ExtraMessageErrorCode != string(signer.KindRejectedByUser) {
		t.Fatalf("unexpected error code: %s", swap.ExtraMessageErrorCode)
	}
	if swap.HasAlreadyProceededToSign {
		t.Fatal("sign flag must be cleared after a failure")
	}
	if len(reporter.reports) != 1 || reporter.reports[0].EventType != EventUserReject {
		t.Fatalf("expected one USER_REJECT report, got %+v", reporter.reports)
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("second Advance failed: %v", err)
	}
	if res.Action != ActionNone || len(evm.sent) != 0 {
		t.Fatalf("rejected swap must not be retried: %+v", res)
	}
	if swap.Step(2).Status != StepStatusCreated {
		t.Fatal("later steps must not start after a failure")
	}
}

func TestAdvanceMissingSignerFailsStep(t *testing.T) {
	engine := newTestEngine(t, registryWith(t, nil), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "COSMOS", ToBlockchain: "OSMOSIS"})
	if err := swap.SetTransaction(1, cosmosTx()); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != signer.KindOperationUnsupported {
		t.Fatalf("expected unsupported failure, got %+v", res)
	}
	if !strings.Contains(res.Failure.Detail, "signer not found") {
		t.Fatalf("expected not-found detail, got %q", res.Failure.Detail)
	}
	if swap.Status != SwapStatusFailed {
		t.Fatalf("expected failed swap, got %s", swap.Status)
	}
}

func TestAdvanceWithoutTransactionIsPrecondition(t *testing.T) {
	engine := newTestEngine(t, registryWith(t, nil), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})

	_, err := engine.Advance(context.Background(), swap)
	if err == nil || !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if swap.Step(1).Status != StepStatusCreated || swap.Status != SwapStatusRunning {
		t.Fatal("a precondition error must not change state")
	}

	if _, err := engine.Advance(context.Background(), nil); !IsPrecondition(err) {
		t.Fatalf("expected precondition error for nil swap, got %v", err)
	}
}

func TestAdvanceRetryableSendErrorKeepsStepRunning(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm", sendErrs: []error{errors.New("connection reset by peer")}}
	reporter := &fakeReporter{}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), func(o *Options) {
		o.Reporter = reporter
	})
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionRetry || res.Failure.Kind != signer.KindSendTxError {
		t.Fatalf("expected retry with send error, got %+v", res)
	}
	step := swap.Step(1)
	if step.Status != StepStatusRunning || step.ExecutedTransactionID != "" {
		t.Fatalf("step must stay running without a hash: %+v", step)
	}
	if swap.ExtraMessageSeverity != SeverityWarning {
		t.Fatalf("expected warning message, got %s", swap.ExtraMessageSeverity)
	}
	if len(reporter.reports) != 1 || reporter.reports[0].EventType != EventSendTxFailed {
		t.Fatalf("expected SEND_TX_FAILED report, got %+v", reporter.reports)
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("retry Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded || swap.Status != SwapStatusSuccess {
		t.Fatalf("expected retry to succeed, got %+v", res)
	}
	if swap.ExtraMessage != "" {
		t.Fatalf("expected warning cleared on success, got %q", swap.ExtraMessage)
	}
}

func TestAdvanceWaitFailureDoesNotResend(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm", waitErrs: []error{errors.New("context deadline exceeded")}}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionRetry {
		t.Fatalf("expected retry after wait failure, got %+v", res)
	}
	if swap.Step(1).ExecutedTransactionID != "0xevm-1" || !swap.HasAlreadyProceededToSign {
		t.Fatalf("broadcast hash and sign flag must survive a wait failure: %+v", swap.Step(1))
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("second Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded {
		t.Fatalf("expected success after re-wait, got %+v", res)
	}
	if len(evm.sent) != 1 || len(evm.waited) != 2 {
		t.Fatalf("expected one send and two waits, got sends=%d waits=%d", len(evm.sent), len(evm.waited))
	}
}

func TestAdvanceOnChainFailureIsTerminal(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm", waitErrs: []error{signer.New(signer.KindTxFailedInBlockchain, "", "execution reverted: slippage")}}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionFailed || res.Failure.Kind != signer.KindTxFailedInBlockchain {
		t.Fatalf("expected on-chain failure, got %+v", res)
	}
	if res.Failure.RPCKind != signer.RPCSlippage {
		t.Fatalf("expected slippage rpc kind, got %s", res.Failure.RPCKind)
	}
	if swap.Status != SwapStatusFailed {
		t.Fatalf("expected failed swap, got %s", swap.Status)
	}
}

func TestAdvanceApprovalOnlyNeedsTransaction(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(true)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionNeedsTransaction {
		t.Fatalf("expected needs_transaction, got %+v", res)
	}
	step := swap.Step(1)
	if step.ApprovalStatus != ApprovalApproved || step.DisplayStatus() != StepStatusApproved {
		t.Fatalf("expected approved step, got %s/%s", step.ApprovalStatus, step.DisplayStatus())
	}
	if !step.NeedsTransaction() {
		t.Fatal("expected step to need its main transaction")
	}

	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("set main: %v", err)
	}
	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded || len(evm.sent) != 2 {
		t.Fatalf("expected main leg to run once, got %+v sends=%d", res, len(evm.sent))
	}
}

func TestAdvanceWaitsForWalletBinding(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	delete(swap.Wallets, "ETH")
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionWaitingForNetwork || len(evm.sent) != 0 {
		t.Fatalf("expected network wait without sends, got %+v", res)
	}
	if swap.Step(1).NetworkStatus != NetworkWaitingForConnectingWallet || swap.NetworkStatusExtraMessage == "" {
		t.Fatalf("expected connect-wallet status, got %q", swap.Step(1).NetworkStatus)
	}

	swap.Wallets["ETH"] = WalletBinding{WalletType: "local", Address: "0xabc"}
	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded {
		t.Fatalf("expected success once bound, got %+v", res)
	}
	if swap.Step(1).NetworkStatus != "" || swap.NetworkStatusExtraMessage != "" {
		t.Fatal("network status must be cleared after success")
	}
}

func TestAdvanceConsultsStatusChecker(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	checker := &fakeStatusChecker{updates: []StatusUpdate{
		{Outcome: OutcomeRunning},
		{Outcome: OutcomeSuccess, OutputAmount: "99.5", ExplorerURLs: []ExplorerURL{{Description: "swap", URL: "https://etherscan.io/tx/0xevm-1"}}},
	}}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), func(o *Options) {
		o.StatusChecker = checker
	})
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ARBITRUM"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionWaitingForStatus || swap.Step(1).Status != StepStatusRunning {
		t.Fatalf("expected running step awaiting status, got %+v", res)
	}

	res, err = engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionStepSucceeded {
		t.Fatalf("expected success, got %+v", res)
	}
	step := swap.Step(1)
	if step.OutputAmount != "99.5" || len(step.ExplorerURLs) != 1 {
		t.Fatalf("expected status details copied to step: %+v", step)
	}
	if len(evm.sent) != 1 || checker.calls != 2 {
		t.Fatalf("expected one send and two checks, got sends=%d checks=%d", len(evm.sent), checker.calls)
	}
}

func TestAdvanceStatusCheckerReportsFailure(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm"}
	checker := &fakeStatusChecker{updates: []StatusUpdate{{Outcome: OutcomeFailed, Message: "bridge refunded"}}}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), func(o *Options) {
		o.StatusChecker = checker
	})
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ARBITRUM"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Action != ActionFailed || res.Failure.Kind != signer.KindTxFailedInBlockchain {
		t.Fatalf("expected on-chain failure, got %+v", res)
	}
	if res.Failure.Detail != "bridge refunded" {
		t.Fatalf("unexpected detail: %q", res.Failure.Detail)
	}
}

func TestAdvanceEmptyHashIsUnexpected(t *testing.T) {
	evm := &fakeSigner{prefix: "0xevm", hashes: []string{"  "}}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), nil)
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}

	res, err := engine.Advance(context.Background(), swap)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != signer.KindUnexpectedBehaviour {
		t.Fatalf("expected unexpected behaviour, got %+v", res)
	}
	if swap.Status != SwapStatusFailed {
		t.Fatalf("expected failed swap, got %s", swap.Status)
	}
}

func TestAdvanceRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	evm := &fakeSigner{prefix: "0xevm"}
	engine := newTestEngine(t, registryWith(t, map[txs.Type]signer.Signer{txs.TypeEVM: evm}), func(o *Options) {
		o.Metrics = NewMetrics(reg)
	})
	swap := newTestSwap(t, StepRoute{FromBlockchain: "ETH", ToBlockchain: "ETH"})
	if err := swap.SetTransaction(1, evmTx(false)); err != nil {
		t.Fatalf("SetTransaction failed: %v", err)
	}
	if _, err := engine.Advance(context.Background(), swap); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"swapexec_engine_steps_completed_total",
		"swapexec_engine_swaps_finished_total",
		"swapexec_signer_call_duration_seconds",
	} {
		if !found[name] {
			t.Fatalf("expected metric %s, gathered %v", name, found)
		}
	}
}
