package execution

import (
	"strings"
	"time"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
)

type StepStatus string

type ApprovalStatus string

type SwapStatus string

type NetworkStatus string

type MessageSeverity string

const (
	StepStatusCreated            StepStatus = "created"
	StepStatusRunning            StepStatus = "running"
	StepStatusWaitingForApproval StepStatus = "waitingForApproval"
	StepStatusApproved           StepStatus = "approved"
	StepStatusSuccess            StepStatus = "success"
	StepStatusFailed             StepStatus = "failed"
)

// Approval runs as a sub-state of a running step.
const (
	ApprovalNone               ApprovalStatus = ""
	ApprovalWaitingForApproval ApprovalStatus = "waitingForApproval"
	ApprovalApproved           ApprovalStatus = "approved"
)

const (
	SwapStatusRunning SwapStatus = "running"
	SwapStatusFailed  SwapStatus = "failed"
	SwapStatusSuccess SwapStatus = "success"
)

const (
	NetworkWaitingForConnectingWallet NetworkStatus = "waitingForConnectingWallet"
	NetworkWaitingForQueue            NetworkStatus = "waitingForQueue"
	NetworkWaitingForNetworkChange    NetworkStatus = "waitingForNetworkChange"
	NetworkChanged                    NetworkStatus = "networkChanged"
)

const (
	SeverityError   MessageSeverity = "error"
	SeverityWarning MessageSeverity = "warning"
	SeverityInfo    MessageSeverity = "info"
	SeveritySuccess MessageSeverity = "success"
)

type WalletBinding struct {
	WalletType string `json:"walletType"`
	Address    string `json:"address"`
}

// Settings is the user preference snapshot taken when the swap is created.
type Settings struct {
	Slippage              string   `json:"slippage"`
	DisabledSwapperIDs    []string `json:"disabledSwappersIds,omitempty"`
	DisabledSwapperGroups []string `json:"disabledSwappersGroups,omitempty"`
	InfiniteApprove       bool     `json:"infiniteApprove,omitempty"`
}

type ExplorerURL struct {
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// StepRoute is copied from the quote and never recomputed.
type StepRoute struct {
	FromBlockchain                    string   `json:"fromBlockchain"`
	FromSymbol                        string   `json:"fromSymbol"`
	FromSymbolAddress                 string   `json:"fromSymbolAddress,omitempty"`
	FromDecimals                      int      `json:"fromDecimals"`
	FromAmount                        string   `json:"fromAmount,omitempty"`
	FromLogo                          string   `json:"fromLogo,omitempty"`
	FromUSDPrice                      *float64 `json:"fromUsdPrice,omitempty"`
	ToBlockchain                      string   `json:"toBlockchain"`
	ToSymbol                          string   `json:"toSymbol"`
	ToSymbolAddress                   string   `json:"toSymbolAddress,omitempty"`
	ToDecimals                        int      `json:"toDecimals"`
	ToLogo                            string   `json:"toLogo,omitempty"`
	ToUSDPrice                        *float64 `json:"toUsdPrice,omitempty"`
	SwapperID                         string   `json:"swapperId"`
	SwapperType                       string   `json:"swapperType,omitempty"`
	ExpectedOutputAmountHumanReadable string   `json:"expectedOutputAmountHumanReadable,omitempty"`
	EstimatedTimeInSeconds            int64    `json:"estimatedTimeInSeconds,omitempty"`
	FeeInUSD                          string   `json:"feeInUsd,omitempty"`
}

type PendingSwapStep struct {
	ID int `json:"id"`
	StepRoute

	ApprovalTransaction txs.Slot `json:"approvalTransaction"`
	Transaction         txs.Slot `json:"transaction"`

	Status         StepStatus     `json:"status"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus,omitempty"`
	NetworkStatus  NetworkStatus  `json:"networkStatus,omitempty"`

	StartTransactionTime    int64         `json:"startTransactionTime,omitempty"`
	ApprovalTransactionID   string        `json:"approvalTransactionId,omitempty"`
	ExecutedTransactionID   string        `json:"executedTransactionId,omitempty"`
	ExecutedTransactionTime string        `json:"executedTransactionTime,omitempty"`
	ExplorerURLs            []ExplorerURL `json:"explorerUrl,omitempty"`
	DiagnosisURL            string        `json:"diagnosisUrl,omitempty"`
	OutputAmount            string        `json:"outputAmount,omitempty"`
	Error                   *signer.Info  `json:"error,omitempty"`
}

type PendingSwap struct {
	RequestID    string     `json:"requestId"`
	CreationTime string     `json:"creationTime"`
	FinishTime   string     `json:"finishTime,omitempty"`
	InputAmount  string     `json:"inputAmount"`
	Status       SwapStatus `json:"status"`

	IsPaused                  bool `json:"isPaused"`
	HasAlreadyProceededToSign bool `json:"hasAlreadyProceededToSign"`

	ExtraMessage                    string          `json:"extraMessage,omitempty"`
	ExtraMessageSeverity            MessageSeverity `json:"extraMessageSeverity,omitempty"`
	ExtraMessageErrorCode           string          `json:"extraMessageErrorCode,omitempty"`
	ExtraMessageDetail              string          `json:"extraMessageDetail,omitempty"`
	NetworkStatusExtraMessage       string          `json:"networkStatusExtraMessage,omitempty"`
	NetworkStatusExtraMessageDetail string          `json:"networkStatusExtraMessageDetail,omitempty"`
	LastNotificationTime            string          `json:"lastNotificationTime,omitempty"`

	Wallets  map[string]WalletBinding `json:"wallets"`
	Settings Settings                 `json:"settings"`
	Steps    []PendingSwapStep        `json:"steps"`
}

// NewSwapInput is what a caller has once a previewed route is accepted.
type NewSwapInput struct {
	RequestID   string
	InputAmount string
	Steps       []StepRoute
	Wallets     map[string]WalletBinding
	Settings    Settings
	Now         time.Time
}

func NewPendingSwap(in NewSwapInput) (PendingSwap, error) {
	if strings.TrimSpace(in.RequestID) == "" {
		return PendingSwap{}, clierr.New(clierr.CodeUsage, "swap request id is required")
	}
	if len(in.Steps) == 0 {
		return PendingSwap{}, clierr.New(clierr.CodeUsage, "route has no steps")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	wallets := make(map[string]WalletBinding, len(in.Wallets))
	for chain, w := range in.Wallets {
		wallets[chain] = w
	}
	settings := in.Settings
	settings.DisabledSwapperIDs = append([]string(nil), in.Settings.DisabledSwapperIDs...)
	settings.DisabledSwapperGroups = append([]string(nil), in.Settings.DisabledSwapperGroups...)

	steps := make([]PendingSwapStep, 0, len(in.Steps))
	for i, route := range in.Steps {
		steps = append(steps, PendingSwapStep{
			ID:        i + 1,
			StepRoute: route,
			Status:    StepStatusCreated,
		})
	}
	return PendingSwap{
		RequestID:    in.RequestID,
		CreationTime: formatTime(now),
		InputAmount:  in.InputAmount,
		Status:       SwapStatusRunning,
		Wallets:      wallets,
		Settings:     settings,
		Steps:        steps,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
