package signer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ggonzalez94/swapexec/internal/txs"
	"go.uber.org/zap"
)

// Registry maps a transaction kind to its signer. Register is last-write-wins
// so hosts can swap implementations at runtime.
type Registry struct {
	mu      sync.RWMutex
	signers map[txs.Type]Signer
	config  Config
	logger  *zap.Logger
}

type RegistryOption func(*Registry)

func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		signers: map[txs.Type]Signer{},
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds s to kind, replacing any previous signer.
func (r *Registry) Register(kind txs.Type, s Signer) error {
	if s == nil {
		return fmt.Errorf("register %s signer: nil signer", kind)
	}
	if c, ok := s.(Configurable); ok {
		if err := c.SetConfig(r.config); err != nil {
			return fmt.Errorf("configure %s signer: %w", kind, err)
		}
	}
	r.mu.Lock()
	_, replaced := r.signers[kind]
	r.signers[kind] = s
	r.mu.Unlock()
	r.logger.Debug("signer registered", zap.String("kind", string(kind)), zap.Bool("replaced", replaced))
	return nil
}

// Get returns the signer for kind or ErrSignerNotFound.
func (r *Registry) Get(kind txs.Type) (Signer, error) {
	r.mu.RLock()
	s, ok := r.signers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignerNotFound, kind)
	}
	return s, nil
}

func (r *Registry) Kinds() []txs.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]txs.Type, 0, len(r.signers))
	for kind := range r.signers {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Description summarizes a registered signer's capabilities.
type Description struct {
	Kind         txs.Type `json:"kind"`
	Address      string   `json:"address,omitempty"`
	Waits        bool     `json:"waits"`
	Configurable bool     `json:"configurable"`
}

func (r *Registry) Describe() []Description {
	kinds := r.Kinds()
	out := make([]Description, 0, len(kinds))
	for _, kind := range kinds {
		s, err := r.Get(kind)
		if err != nil {
			continue
		}
		d := Description{Kind: kind}
		if a, ok := s.(Addresser); ok {
			d.Address = a.Address()
		}
		_, d.Waits = s.(Waiter)
		_, d.Configurable = s.(Configurable)
		out = append(out, d)
	}
	return out
}
