package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	// Detail carries the classified signer failure when there is one.
	Detail *FailureDetail `json:"detail,omitempty"`
}

type FailureDetail struct {
	Kind      string `json:"kind"`
	RPCKind   string `json:"rpc_kind,omitempty"`
	Retryable bool   `json:"retryable"`
	Trace     string `json:"trace,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

// ProviderStatus records one remote call made while serving a command.
type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// SwapSummary is the one-line view of a pending swap used by listings.
type SwapSummary struct {
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	Paused       bool   `json:"paused"`
	From         string `json:"from"`
	To           string `json:"to"`
	InputAmount  string `json:"input_amount"`
	OutputAmount string `json:"output_amount,omitempty"`
	Steps        int    `json:"steps"`
	ActiveStep   int    `json:"active_step,omitempty"`
	ActiveStatus string `json:"active_status,omitempty"`
	Message      string `json:"message,omitempty"`
	CreatedAt    string `json:"created_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// AdvanceOutcome reports what one advance round did to a swap.
type AdvanceOutcome struct {
	RequestID  string         `json:"request_id"`
	Action     string         `json:"action"`
	StepID     int            `json:"step_id,omitempty"`
	SwapStatus string         `json:"swap_status"`
	TxFetched  bool           `json:"tx_fetched,omitempty"`
	Failure    *FailureDetail `json:"failure,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// RunReport collects the rounds of a run until the swap settles or pauses.
type RunReport struct {
	RequestID  string           `json:"request_id"`
	Rounds     int              `json:"rounds"`
	SwapStatus string           `json:"swap_status"`
	Paused     bool             `json:"paused"`
	Outcomes   []AdvanceOutcome `json:"outcomes"`
	Error      string           `json:"error,omitempty"`
}
