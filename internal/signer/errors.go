package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of signer failure categories.
type ErrorKind string

const (
	KindRejectedByUser       ErrorKind = "REJECTED_BY_USER"
	KindSignTxError          ErrorKind = "SIGN_TX_ERROR"
	KindSendTxError          ErrorKind = "SEND_TX_ERROR"
	KindTxFailedInBlockchain ErrorKind = "TX_FAILED_IN_BLOCKCHAIN"
	KindOperationUnsupported ErrorKind = "OPERATION_UNSUPPORTED"
	KindNotImplemented       ErrorKind = "NOT_IMPLEMENTED"
	KindUnexpectedBehaviour  ErrorKind = "UNEXPECTED_BEHAVIOUR"
)

// RPCErrorKind is the node-level detail attached to a failure, when known.
type RPCErrorKind string

const (
	RPCRejection         RPCErrorKind = "REJECTION"
	RPCUnderPriced       RPCErrorKind = "UNDER_PRICED"
	RPCOutOfGas          RPCErrorKind = "OUT_OF_GAS"
	RPCCallException     RPCErrorKind = "CALL_EXCEPTION"
	RPCInsufficientFunds RPCErrorKind = "INSUFFICIENT_FUNDS"
	RPCSlippage          RPCErrorKind = "SLIPPAGE"
	RPCInternal          RPCErrorKind = "INTERNAL"
	RPCUnknown           RPCErrorKind = "UNKNOWN"
)

// ErrSignerNotFound is returned by Registry.Get for an unregistered kind.
var ErrSignerNotFound = errors.New("signer not found")

var defaultMessages = map[ErrorKind]string{
	KindRejectedByUser:       "User rejected the transaction",
	KindSignTxError:          "Error signing the transaction",
	KindSendTxError:          "Error sending the transaction",
	KindTxFailedInBlockchain: "Transaction failed in blockchain",
	KindOperationUnsupported: "Unsupported operation",
	KindNotImplemented:       "Operation not implemented",
	KindUnexpectedBehaviour:  "Unexpected error",
}

// DefaultMessage returns the user-facing message for kind.
func DefaultMessage(kind ErrorKind) string {
	if msg, ok := defaultMessages[kind]; ok {
		return msg
	}
	return defaultMessages[KindUnexpectedBehaviour]
}

// Retryable reports whether the caller may retry a failure of this kind.
func Retryable(kind ErrorKind) bool {
	return kind == KindSignTxError || kind == KindSendTxError
}

// Error is a classified signer failure. Root keeps the raw value as received
// from the wallet or node, whatever its shape.
type Error struct {
	Kind    ErrorKind
	Message string
	RPCKind RPCErrorKind
	Trace   string
	Root    any
}

// New builds an Error without running the rejection heuristics.
func New(kind ErrorKind, message string, root any) *Error {
	return &Error{Kind: kind, Message: message, Root: root}
}

func Unsupported(op string) *Error {
	return New(KindOperationUnsupported, fmt.Sprintf("'%s' is not supported by the signer", op), nil)
}

func Unimplemented(op string) *Error {
	return New(KindNotImplemented, fmt.Sprintf("'%s' is not implemented by the signer", op), nil)
}

func AssertionFailed(msg string) *Error {
	return New(KindUnexpectedBehaviour, "Assertion failed: "+msg, nil)
}

// WithTrace attaches a caller supplied message that takes precedence in Detail.
func (e *Error) WithTrace(trace string) *Error {
	e.Trace = trace
	return e
}

func (e *Error) Error() string {
	msg := e.message()
	detail := e.Detail()
	if detail == "" || detail == msg {
		return msg
	}
	return msg + ": " + detail
}

func (e *Error) Unwrap() error {
	if err, ok := e.Root.(error); ok {
		return err
	}
	return nil
}

func (e *Error) message() string {
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return DefaultMessage(e.Kind)
}

// Detail returns a non-empty human readable description of the failure.
func (e *Error) Detail() string {
	if t := strings.TrimSpace(e.Trace); t != "" {
		return t
	}
	if d := rootDetail(e.Root); d != "" {
		return d
	}
	return e.message()
}

// Info is the serializable projection used in swap records and reports.
type Info struct {
	Kind    ErrorKind    `json:"kind"`
	Message string       `json:"message"`
	Detail  string       `json:"detail"`
	RPCKind RPCErrorKind `json:"rpcKind,omitempty"`
}

func (e *Error) Info() Info {
	return Info{Kind: e.Kind, Message: e.message(), Detail: e.Detail(), RPCKind: e.RPCKind}
}

// AsError extracts a classified error from err's chain.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func rootDetail(root any) string {
	switch v := root.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case *Error:
		return v.Detail()
	case error:
		return strings.TrimSpace(v.Error())
	case json.RawMessage:
		return rawDetail(v)
	case []byte:
		return rawDetail(v)
	case map[string]any:
		for _, key := range []string{"message", "error"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	buf, err := json.Marshal(root)
	if err != nil {
		return strings.TrimSpace(fmt.Sprint(root))
	}
	s := string(buf)
	switch s {
	case "null", "{}", `""`, "[]":
		return ""
	}
	return s
}

func rawDetail(raw []byte) string {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return rootDetail(decoded)
}
