package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

func TestClassifyWalletRejectionCode(t *testing.T) {
	got := Classify(KindSendTxError, map[string]any{"code": float64(4001)})
	if got.Kind != KindRejectedByUser {
		t.Fatalf("expected rejection, got %s", got.Kind)
	}
	if got.RPCKind != RPCRejection {
		t.Fatalf("expected rpc rejection, got %s", got.RPCKind)
	}
	if got.Detail() == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestClassifyRejectionPhraseString(t *testing.T) {
	got := Classify(KindSignTxError, "User rejected the request")
	if got.Kind != KindRejectedByUser {
		t.Fatalf("expected rejection, got %s", got.Kind)
	}
	if got.Detail() != "User rejected the request" {
		t.Fatalf("unexpected detail: %q", got.Detail())
	}
}

func TestClassifyKeepsCallerKindWithoutRejection(t *testing.T) {
	root := errors.New("insufficient funds for gas")
	got := Classify(KindSendTxError, root)
	if got.Kind != KindSendTxError {
		t.Fatalf("expected caller kind to be kept, got %s", got.Kind)
	}
	if got.Detail() != "insufficient funds for gas" {
		t.Fatalf("unexpected detail: %q", got.Detail())
	}
	if got.RPCKind != RPCInsufficientFunds {
		t.Fatalf("unexpected rpc kind: %s", got.RPCKind)
	}
	if !errors.Is(got, root) {
		t.Fatal("expected root cause to unwrap")
	}
}

func TestClassifyObjectShapes(t *testing.T) {
	type walletErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	cases := []struct {
		name string
		raw  any
		want ErrorKind
	}{
		{name: "geth coded error", raw: codedError{code: 4001, msg: "denied"}, want: KindRejectedByUser},
		{name: "wrapped coded error", raw: fmt.Errorf("send: %w", codedError{code: 4001, msg: "x"}), want: KindRejectedByUser},
		{name: "struct with code", raw: walletErr{Code: 4001}, want: KindRejectedByUser},
		{name: "message field", raw: map[string]any{"message": "Transaction declined by user"}, want: KindRejectedByUser},
		{name: "nested json", raw: json.RawMessage(`{"error":{"reason":"User canceled"}}`), want: KindRejectedByUser},
		{name: "string code", raw: map[string]any{"code": "4001"}, want: KindRejectedByUser},
		{name: "other code", raw: walletErr{Code: -32000, Message: "nonce too low"}, want: KindSendTxError},
		{name: "nil", raw: nil, want: KindSendTxError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(KindSendTxError, tc.raw)
			if got.Kind != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Kind)
			}
			if strings.TrimSpace(got.Detail()) == "" {
				t.Fatal("detail must never be empty")
			}
		})
	}
}

func TestClassifyNeverDowngradesTypedKind(t *testing.T) {
	typed := New(KindTxFailedInBlockchain, "", "status 0x0")
	got := Classify(KindSendTxError, fmt.Errorf("wait: %w", typed))
	if got.Kind != KindTxFailedInBlockchain {
		t.Fatalf("expected typed kind to survive, got %s", got.Kind)
	}

	upgraded := Classify(KindSendTxError, New(KindSignTxError, "", "user denied transaction signature"))
	if upgraded.Kind != KindRejectedByUser {
		t.Fatalf("expected typed error with rejection root to upgrade, got %s", upgraded.Kind)
	}
}

func TestClassifyRPC(t *testing.T) {
	cases := []struct {
		msg  string
		want RPCErrorKind
	}{
		{msg: "replacement transaction underpriced", want: RPCUnderPriced},
		{msg: "gas required exceeds allowance (30000000)", want: RPCOutOfGas},
		{msg: "execution reverted", want: RPCCallException},
		{msg: "execution reverted: UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT", want: RPCSlippage},
		{msg: "Internal error", want: RPCInternal},
		{msg: "something else", want: RPCUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyRPC(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.msg, tc.want, got)
		}
	}
	if got := ClassifyRPC(codedError{code: -32603, msg: "boom"}); got != RPCInternal {
		t.Fatalf("expected internal from code, got %s", got)
	}
	if got := ClassifyRPC(dataError{msg: "execution reverted", data: "Too little received"}); got != RPCSlippage {
		t.Fatalf("expected slippage from revert data, got %s", got)
	}
}

func TestDetailPrecedence(t *testing.T) {
	e := New(KindSendTxError, "", errors.New("root message")).WithTrace("trace message")
	if e.Detail() != "trace message" {
		t.Fatalf("expected trace to win, got %q", e.Detail())
	}
	e = New(KindSendTxError, "", map[string]any{"error": "node said no"})
	if e.Detail() != "node said no" {
		t.Fatalf("expected error field, got %q", e.Detail())
	}
	e = New(KindSendTxError, "", map[string]any{"reason": 7})
	if e.Detail() != `{"reason":7}` {
		t.Fatalf("expected json fallback, got %q", e.Detail())
	}
	e = New(KindNotImplemented, "", struct{}{})
	if e.Detail() != DefaultMessage(KindNotImplemented) {
		t.Fatalf("expected default message fallback, got %q", e.Detail())
	}
}

func TestHelperMessages(t *testing.T) {
	if got := Unsupported("signMessage").Error(); got != "'signMessage' is not supported by the signer" {
		t.Fatalf("unexpected unsupported message: %q", got)
	}
	if got := Unimplemented("wait").Kind; got != KindNotImplemented {
		t.Fatalf("unexpected kind: %s", got)
	}
	if got := AssertionFailed("step index").Message; got != "Assertion failed: step index" {
		t.Fatalf("unexpected assertion message: %q", got)
	}
	if Retryable(KindRejectedByUser) || !Retryable(KindSendTxError) {
		t.Fatal("unexpected retryable classification")
	}
}
