package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/swapexec/internal/api"
	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/execution"
	"github.com/ggonzalez94/swapexec/internal/httpx"
	"github.com/ggonzalez94/swapexec/internal/registry"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/signer/evm"
	solsigner "github.com/ggonzalez94/swapexec/internal/signer/solana"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const blockchainsTTL = 6 * time.Hour

func (s *runtimeState) ensureStore() error {
	if s.store != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.SwapStorePath, s.settings.SwapLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open swap store", err)
	}
	s.store = store
	return nil
}

func (s *runtimeState) ensureAPI() *api.Client {
	if s.api == nil {
		httpClient := httpx.New(s.settings.Timeout, s.settings.Retries).WithRateLimit(s.settings.APIRateLimit, 1)
		s.api = api.New(httpClient, s.settings.APIBaseURL, s.settings.APIKey)
	}
	return s.api
}

// ensureSigners builds the registry once per command. Signers whose keys are
// missing are skipped with a warning so read-only commands keep working.
func (s *runtimeState) ensureSigners() *signer.Registry {
	if s.signers != nil {
		return s.signers
	}
	rpcURLs := make(map[string]string, len(s.settings.EVMRPCURLs)+1)
	for k, v := range s.settings.EVMRPCURLs {
		rpcURLs[k] = v
	}
	if strings.TrimSpace(s.settings.SolanaRPCURL) != "" {
		rpcURLs[solsigner.RPCKey] = s.settings.SolanaRPCURL
	}
	reg := signer.NewRegistry(signer.Config{
		Confirmations: s.settings.Confirmations,
		PollInterval:  s.settings.PollInterval,
		WaitTimeout:   s.settings.WaitTimeout,
		RPCURLs:       rpcURLs,
	}, signer.WithLogger(s.logger))
	if s.runner.setup != nil {
		s.signerWarnings = s.runner.setup(s, reg)
	}
	s.signers = reg
	return reg
}

func registerLocalSigners(s *runtimeState, reg *signer.Registry) []string {
	var warnings []string
	if err := registerEVMSigner(s, reg); err != nil {
		warnings = append(warnings, fmt.Sprintf("evm signer unavailable: %v", err))
	}
	if err := registerSolanaSigner(s, reg); err != nil {
		warnings = append(warnings, fmt.Sprintf("solana signer unavailable: %v", err))
	}
	return warnings
}

func registerEVMSigner(s *runtimeState, reg *signer.Registry) error {
	keyCfg, err := evm.KeyConfigFromEnv(s.settings.EVMKeySource, s.privateKey)
	if err != nil {
		return err
	}
	key, err := evm.LoadKey(keyCfg)
	if err != nil {
		return err
	}
	sgn, err := evm.New(key, evm.WithLogger(s.logger.Named("evm")), evm.WithGasMultiplier(s.settings.EVMGasMultiplier))
	if err != nil {
		return err
	}
	return reg.Register(txs.TypeEVM, sgn)
}

func registerSolanaSigner(s *runtimeState, reg *signer.Registry) error {
	key, err := solsigner.LoadKey(s.solanaKey, s.settings.SolanaKeypairPath)
	if err != nil {
		return err
	}
	sgn, err := solsigner.New(key, solsigner.WithLogger(s.logger.Named("solana")))
	if err != nil {
		return err
	}
	return reg.Register(txs.TypeSolana, sgn)
}

func (s *runtimeState) ensureMetrics() *execution.Metrics {
	if s.metrics == nil {
		s.metricsReg = prometheus.NewRegistry()
		s.metrics = execution.NewMetrics(s.metricsReg)
	}
	return s.metrics
}

func (s *runtimeState) newEngine() *execution.Engine {
	reg := s.ensureSigners()
	client := s.ensureAPI()
	return execution.NewEngine(reg, execution.Options{
		Logger:         s.logger.Named("engine"),
		Reporter:       client,
		StatusChecker:  client,
		NetworkChecker: walletChecker{signers: reg},
		Metrics:        s.ensureMetrics(),
		ChainIDs:       s.chainIDs(),
		Confirmations:  s.settings.Confirmations,
		Now:            s.runner.now,
	})
}

// chainIDs merges the static table with the cached blockchain catalog. It
// never goes to the network.
func (s *runtimeState) chainIDs() map[string]string {
	var metas []api.BlockchainMeta
	if s.cache != nil {
		if _, err := s.cache.GetJSON(blockchainsCacheKey(), s.settings.MaxStale, &metas); err != nil {
			s.logger.Debug("read cached blockchains", zap.Error(err))
		}
	}
	return registry.ChainIDs(api.ChainIDOverrides(metas))
}

func blockchainsCacheKey() string {
	return cacheKey("meta blockchains", map[string]any{})
}

// walletChecker waits only while the local signer for a chain holds a
// different address than the bound wallet. Chains without a signer are
// reported ready so the engine fails the step as unsupported.
type walletChecker struct {
	signers *signer.Registry
}

func (w walletChecker) Check(_ context.Context, blockchain string, wallet execution.WalletBinding) (execution.NetworkStatus, error) {
	chain, ok := registry.LookupChain(blockchain)
	if !ok {
		return "", nil
	}
	sgn, err := w.signers.Get(chain.Type)
	if err != nil {
		return "", nil
	}
	if a, ok := sgn.(signer.Addresser); ok && !strings.EqualFold(a.Address(), strings.TrimSpace(wallet.Address)) {
		return execution.NetworkWaitingForConnectingWallet, nil
	}
	return "", nil
}
