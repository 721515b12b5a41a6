package signer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/swapexec/internal/txs"
)

type stubSigner struct {
	name string
}

func (s *stubSigner) SignMessage(context.Context, string, string, string) (string, error) {
	return s.name, nil
}

func (s *stubSigner) SignAndSendTx(context.Context, txs.Transaction, string, string) (Result, error) {
	return Result{Hash: s.name}, nil
}

type configurableSigner struct {
	stubSigner
	cfg    Config
	calls  int
	failOn bool
}

func (s *configurableSigner) SetConfig(cfg Config) error {
	s.calls++
	if s.failOn {
		return errors.New("bad config")
	}
	s.cfg = cfg
	return nil
}

func (s *configurableSigner) Wait(context.Context, string, string, any, int) (Result, error) {
	return Result{Hash: s.name}, nil
}

func (s *configurableSigner) Address() string { return "0xabc" }

func TestRegistryGetUnregistered(t *testing.T) {
	r := NewRegistry(Config{})
	_, err := r.Get(txs.TypeEVM)
	if !errors.Is(err, ErrSignerNotFound) {
		t.Fatalf("expected ErrSignerNotFound, got %v", err)
	}
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(Config{})
	a := &stubSigner{name: "a"}
	b := &stubSigner{name: "b"}
	if err := r.Register(txs.TypeEVM, a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(txs.TypeEVM, b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	got, err := r.Get(txs.TypeEVM)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != Signer(b) {
		t.Fatalf("expected signer b, got %#v", got)
	}
	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != txs.TypeEVM {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}

func TestRegistryCallsSetConfigOnRegister(t *testing.T) {
	cfg := Config{Confirmations: 3, PollInterval: time.Second}
	r := NewRegistry(cfg)
	s := &configurableSigner{stubSigner: stubSigner{name: "evm"}}
	if err := r.Register(txs.TypeEVM, s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.calls != 1 || s.cfg.Confirmations != 3 {
		t.Fatalf("expected config applied once, got calls=%d cfg=%+v", s.calls, s.cfg)
	}

	desc := r.Describe()
	if len(desc) != 1 || !desc[0].Waits || !desc[0].Configurable || desc[0].Address != "0xabc" {
		t.Fatalf("unexpected description: %+v", desc)
	}
}

func TestRegistryRejectsFailingConfig(t *testing.T) {
	r := NewRegistry(Config{})
	if err := r.Register(txs.TypeSolana, &configurableSigner{failOn: true}); err == nil {
		t.Fatal("expected config error")
	}
	if _, err := r.Get(txs.TypeSolana); !errors.Is(err, ErrSignerNotFound) {
		t.Fatalf("failed registration must not bind signer: %v", err)
	}
	if err := r.Register(txs.TypeSolana, nil); err == nil {
		t.Fatal("expected nil signer error")
	}
}

func TestRegistryConcurrentLookups(t *testing.T) {
	r := NewRegistry(Config{})
	_ = r.Register(txs.TypeCosmos, &stubSigner{name: "cosmos"})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_ = r.Register(txs.TypeCosmos, &stubSigner{name: "cosmos"})
				return
			}
			if _, err := r.Get(txs.TypeCosmos); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
