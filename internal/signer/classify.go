package signer

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// walletRejectionCode is the EIP-1193 "user rejected request" code.
const walletRejectionCode = 4001

const rpcInternalErrorCode = -32603

var rejectionPhrases = []string{
	"rejected by user",
	"rejected by the user",
	"user rejected",
	"user denied",
	"user canceled",
	"user cancelled",
	"declined by user",
	"request rejected",
	"user abort",
}

// Classify normalizes a raw failure from a signer call. kind is what the
// caller observed (sign or send); the result keeps it unless the failure
// carries a rejection signal. A raw *Error keeps its own declared kind.
func Classify(kind ErrorKind, raw any) *Error {
	if err, ok := raw.(error); ok {
		if typed, ok := AsError(err); ok {
			out := *typed
			if out.Kind != KindRejectedByUser && IsRejection(out.Root) {
				out.Kind = KindRejectedByUser
			}
			if out.RPCKind == "" {
				out.RPCKind = ClassifyRPC(out.Root)
			}
			return &out
		}
	}
	out := &Error{Kind: kind, Root: raw, RPCKind: ClassifyRPC(raw)}
	if out.RPCKind == RPCRejection {
		out.Kind = KindRejectedByUser
	}
	return out
}

// IsRejection reports whether raw signals an explicit user decline.
func IsRejection(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case string:
		return containsRejectionPhrase(v)
	case *Error:
		return v.Kind == KindRejectedByUser || IsRejection(v.Root)
	case json.RawMessage:
		return rawIsRejection(v)
	case []byte:
		return rawIsRejection(v)
	}
	if code, ok := errorCode(raw); ok && code == walletRejectionCode {
		return true
	}
	if containsRejectionPhrase(messageOf(raw)) {
		return true
	}
	if buf, err := json.Marshal(raw); err == nil && containsRejectionPhrase(string(buf)) {
		return true
	}
	return false
}

// ClassifyRPC derives the node-level kind from codes and well-known phrases.
func ClassifyRPC(raw any) RPCErrorKind {
	if raw == nil {
		return ""
	}
	if IsRejection(raw) {
		return RPCRejection
	}
	text := strings.ToLower(messageOf(raw))
	if data := errorData(raw); data != "" {
		text += " " + strings.ToLower(data)
	}
	switch {
	case containsAny(text, "underpriced", "fee too low", "less than block base fee", "max fee per gas less than"):
		return RPCUnderPriced
	case containsAny(text, "insufficient funds", "insufficient balance", "insufficient lamports"):
		return RPCInsufficientFunds
	case containsAny(text, "out of gas", "gas required exceeds", "intrinsic gas too low"):
		return RPCOutOfGas
	case containsAny(text, "slippage", "too little received", "insufficient output amount", "insufficient_output_amount", "price impact"):
		return RPCSlippage
	case containsAny(text, "execution reverted", "call exception", "reverted"):
		return RPCCallException
	case containsAny(text, "internal error"):
		return RPCInternal
	}
	if code, ok := errorCode(raw); ok && code == rpcInternalErrorCode {
		return RPCInternal
	}
	return RPCUnknown
}

func containsRejectionPhrase(s string) bool {
	return containsAny(strings.ToLower(s), rejectionPhrases...)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func rawIsRejection(raw []byte) bool {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return containsRejectionPhrase(string(raw))
	}
	return IsRejection(decoded)
}

func errorCode(raw any) (int, bool) {
	if err, ok := raw.(error); ok {
		var coded gethrpc.Error
		if errors.As(err, &coded) {
			return coded.ErrorCode(), true
		}
	}
	fields := asFields(raw)
	if fields == nil {
		return 0, false
	}
	v, ok := lookupFold(fields, "code")
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func messageOf(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	}
	fields := asFields(raw)
	if fields == nil {
		return ""
	}
	if v, ok := lookupFold(fields, "message"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func errorData(raw any) string {
	err, ok := raw.(error)
	if !ok {
		return ""
	}
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch d := dataErr.ErrorData().(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		buf, _ := json.Marshal(d)
		return string(buf)
	}
}

// asFields views maps and structs as a JSON object.
func asFields(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil
	}
	return m
}

func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
