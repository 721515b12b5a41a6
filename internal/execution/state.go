package execution

import (
	"fmt"
	"time"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
)

// PreconditionError reports a caller mistake, such as advancing a step whose
// transaction has not been built yet.
func PreconditionError(format string, args ...any) error {
	return clierr.New(clierr.CodePrecondition, fmt.Sprintf(format, args...))
}

func IsPrecondition(err error) bool {
	return clierr.Is(err, clierr.CodePrecondition)
}

type leg int

const (
	legApproval leg = iota + 1
	legMain
)

func (l leg) String() string {
	if l == legApproval {
		return "approval"
	}
	return "main"
}

func (s *PendingSwapStep) Terminal() bool {
	return s.Status == StepStatusSuccess || s.Status == StepStatusFailed
}

// DisplayStatus folds the approval sub-state into the flat status shown to users.
func (s *PendingSwapStep) DisplayStatus() StepStatus {
	if s.Status == StepStatusRunning && s.ApprovalStatus != ApprovalNone && s.ExecutedTransactionID == "" {
		return StepStatus(s.ApprovalStatus)
	}
	return s.Status
}

// NeedsTransaction reports whether the next leg has no transaction to sign.
func (s *PendingSwapStep) NeedsTransaction() bool {
	if s.Terminal() {
		return false
	}
	if !s.ApprovalTransaction.Empty() && s.ApprovalStatus != ApprovalApproved {
		return false
	}
	return s.Transaction.Empty()
}

// pendingLeg resolves which transaction runs next. An unconfirmed approval
// always runs before the main transaction.
func (s *PendingSwapStep) pendingLeg() (leg, txs.Transaction, error) {
	if !s.ApprovalTransaction.Empty() && !s.Transaction.Empty() && s.ApprovalTransaction.Kind() != s.Transaction.Kind() {
		return 0, nil, PreconditionError("step %d mixes %s approval with %s transaction", s.ID, s.ApprovalTransaction.Kind(), s.Transaction.Kind())
	}
	if !s.ApprovalTransaction.Empty() && s.ApprovalStatus != ApprovalApproved {
		return legApproval, s.ApprovalTransaction.Tx, nil
	}
	if s.Transaction.Empty() {
		return 0, nil, PreconditionError("step %d has no transaction; build it before advancing", s.ID)
	}
	return legMain, s.Transaction.Tx, nil
}

func (s *PendingSwapStep) legHash(l leg) string {
	if l == legApproval {
		return s.ApprovalTransactionID
	}
	return s.ExecutedTransactionID
}

func (s *PendingSwapStep) start(now time.Time) error {
	switch s.Status {
	case StepStatusCreated:
		s.Status = StepStatusRunning
		s.StartTransactionTime = now.UnixMilli()
		return nil
	case StepStatusRunning:
		return nil
	default:
		return s.illegal(StepStatusRunning)
	}
}

func (s *PendingSwapStep) recordBroadcast(l leg, hash string, now time.Time) error {
	if s.Status != StepStatusRunning {
		return s.illegal(StepStatusRunning)
	}
	if l == legApproval {
		if s.ApprovalStatus != ApprovalNone {
			return s.illegal(StepStatusWaitingForApproval)
		}
		s.ApprovalTransactionID = hash
		s.ApprovalStatus = ApprovalWaitingForApproval
		return nil
	}
	s.ExecutedTransactionID = hash
	s.ExecutedTransactionTime = formatTime(now)
	return nil
}

func (s *PendingSwapStep) approve() error {
	if s.Status != StepStatusRunning || s.ApprovalStatus != ApprovalWaitingForApproval {
		return s.illegal(StepStatusApproved)
	}
	s.ApprovalStatus = ApprovalApproved
	return nil
}

func (s *PendingSwapStep) succeed() error {
	if s.Status != StepStatusRunning {
		return s.illegal(StepStatusSuccess)
	}
	if !s.ApprovalTransaction.Empty() && s.ApprovalStatus != ApprovalApproved {
		return s.illegal(StepStatusSuccess)
	}
	s.NetworkStatus = ""
	s.Status = StepStatusSuccess
	return nil
}

func (s *PendingSwapStep) fail(info signer.Info) error {
	if s.Terminal() {
		return s.illegal(StepStatusFailed)
	}
	s.NetworkStatus = ""
	s.Status = StepStatusFailed
	s.Error = &info
	return nil
}

func (s *PendingSwapStep) illegal(to StepStatus) *signer.Error {
	return signer.AssertionFailed(fmt.Sprintf("step %d cannot move from %s to %s", s.ID, s.DisplayStatus(), to))
}

func (p *PendingSwap) Terminal() bool {
	return p.Status == SwapStatusSuccess || p.Status == SwapStatusFailed
}

// Step returns the step with the given 1-based id.
func (p *PendingSwap) Step(id int) *PendingSwapStep {
	if id < 1 || id > len(p.Steps) {
		return nil
	}
	return &p.Steps[id-1]
}

// ActiveStep returns the first step that has not succeeded.
func (p *PendingSwap) ActiveStep() *PendingSwapStep {
	for i := range p.Steps {
		if p.Steps[i].Status != StepStatusSuccess {
			return &p.Steps[i]
		}
	}
	return nil
}

// Wallet returns the binding recorded for blockchain at creation.
func (p *PendingSwap) Wallet(blockchain string) (WalletBinding, bool) {
	w, ok := p.Wallets[blockchain]
	return w, ok
}

// SetTransaction places a builder-produced transaction in the step's
// approval or main slot.
func (p *PendingSwap) SetTransaction(stepID int, tx txs.Transaction) error {
	if tx == nil {
		return PreconditionError("missing transaction")
	}
	step := p.Step(stepID)
	if step == nil {
		return PreconditionError("swap %s has no step %d", p.RequestID, stepID)
	}
	if step.Terminal() {
		return PreconditionError("step %d is already %s", stepID, step.Status)
	}
	if txs.IsApproval(tx) {
		if step.ApprovalTransactionID != "" || step.ApprovalStatus != ApprovalNone {
			return PreconditionError("step %d approval is already in flight", stepID)
		}
		if !step.Transaction.Empty() && step.Transaction.Kind() != tx.Kind() {
			return PreconditionError("step %d expects %s transactions, got %s", stepID, step.Transaction.Kind(), tx.Kind())
		}
		step.ApprovalTransaction = txs.NewSlot(tx)
		return nil
	}
	if step.ExecutedTransactionID != "" {
		return PreconditionError("step %d transaction is already in flight", stepID)
	}
	if !step.ApprovalTransaction.Empty() && step.ApprovalTransaction.Kind() != tx.Kind() {
		return PreconditionError("step %d expects %s transactions, got %s", stepID, step.ApprovalTransaction.Kind(), tx.Kind())
	}
	step.Transaction = txs.NewSlot(tx)
	return nil
}

// DeriveStatus aggregates step statuses: success when every step succeeded,
// failed when a step failed and nothing after it started.
func DeriveStatus(p *PendingSwap) SwapStatus {
	if len(p.Steps) == 0 {
		return SwapStatusRunning
	}
	allSuccess := true
	for i := range p.Steps {
		st := p.Steps[i].Status
		if st == StepStatusFailed {
			started := false
			for _, later := range p.Steps[i+1:] {
				if later.Status != StepStatusCreated {
					started = true
					break
				}
			}
			if !started {
				return SwapStatusFailed
			}
		}
		if st != StepStatusSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return SwapStatusSuccess
	}
	return SwapStatusRunning
}

// refreshStatus recomputes the swap status. Terminal swaps are left alone.
func (p *PendingSwap) refreshStatus(now time.Time) {
	if p.Terminal() {
		return
	}
	p.Status = DeriveStatus(p)
	if p.Terminal() {
		p.FinishTime = formatTime(now)
		p.HasAlreadyProceededToSign = false
	}
}

func (p *PendingSwap) setMessage(severity MessageSeverity, msg, code, detail string, now time.Time) {
	p.ExtraMessage = msg
	p.ExtraMessageSeverity = severity
	p.ExtraMessageErrorCode = code
	p.ExtraMessageDetail = detail
	p.LastNotificationTime = formatTime(now)
}

func (p *PendingSwap) clearMessage() {
	p.ExtraMessage = ""
	p.ExtraMessageSeverity = ""
	p.ExtraMessageErrorCode = ""
	p.ExtraMessageDetail = ""
}
