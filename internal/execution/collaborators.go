package execution

import (
	"context"

	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
)

// SignerLookup resolves the signer for a transaction kind.
type SignerLookup interface {
	Get(kind txs.Type) (signer.Signer, error)
}

// NetworkChecker reports whether the wallet bound to blockchain is ready to
// sign. An empty status or NetworkChanged means ready.
type NetworkChecker interface {
	Check(ctx context.Context, blockchain string, wallet WalletBinding) (NetworkStatus, error)
}

type StepOutcome string

const (
	OutcomeRunning StepOutcome = "running"
	OutcomeSuccess StepOutcome = "success"
	OutcomeFailed  StepOutcome = "failed"
)

// StatusUpdate is what the status-check service reports for a confirmed
// main transaction. It is copied into the step verbatim.
type StatusUpdate struct {
	Outcome      StepOutcome
	OutputAmount string
	ExplorerURLs []ExplorerURL
	DiagnosisURL string
	Message      string
}

// StatusChecker queries the final state of a step after its main
// transaction is confirmed on the source chain.
type StatusChecker interface {
	CheckStatus(ctx context.Context, requestID string, stepID int, txID string) (StatusUpdate, error)
}

// Report event types understood by the telemetry endpoint.
const (
	EventUserReject                = "USER_REJECT"
	EventCallWalletFailed          = "CALL_WALLET_FAILED"
	EventSendTxFailed              = "SEND_TX_FAILED"
	EventTxFailedInBlockchain      = "TX_FAILED_IN_BLOCKCHAIN"
	EventClientUnexpectedBehaviour = "CLIENT_UNEXPECTED_BEHAVIOUR"
)

// FailureReport is sent fire-and-forget whenever a signer call fails.
type FailureReport struct {
	RequestID string
	StepID    int
	EventType string
	Reason    string
	Wallet    string
	ErrorCode string
	Data      map[string]string
}

type Reporter interface {
	Report(ctx context.Context, report FailureReport) error
}

// EventType maps a taxonomy kind onto the telemetry event vocabulary.
func EventType(kind signer.ErrorKind) string {
	switch kind {
	case signer.KindRejectedByUser:
		return EventUserReject
	case signer.KindSignTxError:
		return EventCallWalletFailed
	case signer.KindSendTxError:
		return EventSendTxFailed
	case signer.KindTxFailedInBlockchain:
		return EventTxFailedInBlockchain
	default:
		return EventClientUnexpectedBehaviour
	}
}
