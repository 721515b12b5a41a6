// Package txs models chain-tagged transactions returned by the transaction
// builder. Every variant carries a `type` discriminator and a blockchain name;
// the set of variants is open and grows through Register.
package txs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Type discriminates transaction variants.
type Type string

const (
	TypeEVM      Type = "EVM"
	TypeCosmos   Type = "COSMOS"
	TypeSolana   Type = "SOLANA"
	TypeTransfer Type = "TRANSFER"
	TypeTron     Type = "TRON"
	TypeStarknet Type = "STARKNET"
	TypeSui      Type = "SUI"
	TypeTon      Type = "TON"
	TypeMove     Type = "MOVE"
	TypeXRPL     Type = "XRPL"
)

var ErrUnknownType = errors.New("unknown transaction type")

// Transaction is implemented by every variant through the embedded Base.
type Transaction interface {
	Kind() Type
	Blockchain() string
}

// Approver is implemented by variants that can carry an allowance grant.
type Approver interface {
	IsApproval() bool
}

// Base holds the fields shared by all variants.
type Base struct {
	Type         Type    `json:"type"`
	BlockChain   string  `json:"blockChain"`
	ExternalTxID *string `json:"externalTxId,omitempty"`
}

func (b Base) Kind() Type { return b.Type }

func (b Base) Blockchain() string { return b.BlockChain }

// IsApproval reports whether tx is flagged as an approval transaction.
func IsApproval(tx Transaction) bool {
	if tx == nil {
		return false
	}
	a, ok := tx.(Approver)
	return ok && a.IsApproval()
}

// ParseType normalizes a user supplied discriminator.
func ParseType(v string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(v)))
	if t == "" {
		return "", fmt.Errorf("empty transaction type")
	}
	return t, nil
}

var (
	decodersMu sync.RWMutex
	decoders   = map[Type]func() Transaction{}
)

// Register binds a discriminator to a constructor returning a pointer to an
// empty variant. Registering an existing type replaces it.
func Register(t Type, newFn func() Transaction) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[t] = newFn
}

// Registered lists the known discriminators in sorted order.
func Registered() []Type {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	out := make([]Type, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	Register(TypeEVM, func() Transaction { return &EvmTransaction{} })
	Register(TypeCosmos, func() Transaction { return &CosmosTransaction{} })
	Register(TypeSolana, func() Transaction { return &SolanaTransaction{} })
	Register(TypeTransfer, func() Transaction { return &TransferTransaction{} })
	Register(TypeTron, func() Transaction { return &TronTransaction{} })
	Register(TypeStarknet, func() Transaction { return &StarknetTransaction{} })
	Register(TypeSui, func() Transaction { return &SuiTransaction{} })
	Register(TypeTon, func() Transaction { return &TonTransaction{} })
	Register(TypeMove, func() Transaction { return &MoveTransaction{} })
	Register(TypeXRPL, func() Transaction { return &XrplTransaction{} })
}

// Decode reads the discriminator from raw and unmarshals into the matching variant.
func Decode(raw []byte) (Transaction, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode transaction header: %w", err)
	}
	decodersMu.RLock()
	newFn, ok := decoders[head.Type]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownType, head.Type, Registered())
	}
	tx := newFn()
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, fmt.Errorf("decode %s transaction: %w", head.Type, err)
	}
	if tx.Kind() != head.Type {
		return nil, fmt.Errorf("decode %s transaction: variant reported %s", head.Type, tx.Kind())
	}
	return tx, nil
}

// Slot holds at most one transaction and encodes as the bare variant or null.
type Slot struct {
	Tx Transaction
}

func NewSlot(tx Transaction) Slot { return Slot{Tx: tx} }

func (s Slot) Empty() bool { return s.Tx == nil }

func (s Slot) Kind() Type {
	if s.Tx == nil {
		return ""
	}
	return s.Tx.Kind()
}

func (s Slot) MarshalJSON() ([]byte, error) {
	if s.Tx == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Tx)
}

func (s *Slot) UnmarshalJSON(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		s.Tx = nil
		return nil
	}
	tx, err := Decode(b)
	if err != nil {
		return err
	}
	s.Tx = tx
	return nil
}
