// Package evm implements the signer capability for EVM transactions with a
// local private key and a JSON-RPC node.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/ggonzalez94/swapexec/internal/id"
	"github.com/ggonzalez94/swapexec/internal/registry"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"go.uber.org/zap"
)

const (
	defaultGasMultiplier = 1.2
	defaultPollInterval  = 3 * time.Second
	defaultWaitTimeout   = 5 * time.Minute
)

var fallbackTipCap = big.NewInt(2_000_000_000)

// Backend is the node surface the signer needs. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer opens a Backend for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

type Option func(*Signer)

func WithDialer(d Dialer) Option {
	return func(s *Signer) {
		if d != nil {
			s.dial = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGasMultiplier scales estimated gas limits. Values below 1 are ignored.
func WithGasMultiplier(m float64) Option {
	return func(s *Signer) {
		if m >= 1 {
			s.gasMultiplier = m
		}
	}
}

// Signer signs with one local key. Sends for the same chain are serialized so
// pending nonces are never handed out twice.
type Signer struct {
	key           *ecdsa.PrivateKey
	address       common.Address
	dial          Dialer
	logger        *zap.Logger
	gasMultiplier float64

	mu      sync.Mutex
	cfg     signer.Config
	clients map[string]Backend
	nonces  map[string]*sync.Mutex
}

func New(key *ecdsa.PrivateKey, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("evm signer: nil private key")
	}
	s := &Signer{
		key:           key,
		address:       crypto.PubkeyToAddress(key.PublicKey),
		dial:          dialEthclient,
		logger:        zap.NewNop(),
		gasMultiplier: defaultGasMultiplier,
		clients:       map[string]Backend{},
		nonces:        map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) Address() string { return s.address.Hex() }

func (s *Signer) SetConfig(cfg signer.Config) error {
	if cfg.Confirmations < 0 {
		return fmt.Errorf("evm signer: confirmations must be >= 0")
	}
	if cfg.PollInterval < 0 || cfg.WaitTimeout < 0 {
		return fmt.Errorf("evm signer: poll interval and wait timeout must be >= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *Signer) config() signer.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SignMessage produces an EIP-191 personal_sign signature.
func (s *Signer) SignMessage(_ context.Context, msg, address, _ string) (string, error) {
	if err := s.checkAddress(address); err != nil {
		return "", err
	}
	if isTypedData(msg) {
		return "", signer.Unimplemented("sign EIP-712 typed data")
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), s.key)
	if err != nil {
		return "", signer.New(signer.KindSignTxError, "", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// isTypedData reports whether msg is an EIP-712 payload.
func isTypedData(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"primaryType"`) && strings.Contains(trimmed, `"domain"`)
}

func (s *Signer) SignAndSendTx(ctx context.Context, tx txs.Transaction, address, chainID string) (signer.Result, error) {
	evmTx, err := asEVM(tx)
	if err != nil {
		return signer.Result{}, err
	}
	if err := s.checkAddress(address); err != nil {
		return signer.Result{}, err
	}
	if evmTx.From != nil {
		if err := s.checkAddress(*evmTx.From); err != nil {
			return signer.Result{}, err
		}
	}
	cid, err := resolveChainID(chainID, evmTx.Blockchain())
	if err != nil {
		return signer.Result{}, err
	}
	client, err := s.client(ctx, cid)
	if err != nil {
		return signer.Result{}, err
	}

	unlock := s.lockNonce(cid)
	defer unlock()

	unsigned, err := s.buildTx(ctx, client, cid, evmTx)
	if err != nil {
		return signer.Result{}, err
	}
	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(cid), s.key)
	if err != nil {
		return signer.Result{}, signer.New(signer.KindSignTxError, "", err)
	}
	if evmTx.IsApprovalTx {
		s.logApproval(signed)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return signer.Result{}, wrapNodeError(signer.KindSendTxError, err)
	}
	s.logger.Debug("transaction broadcast",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("chain_id", cid.String()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas", signed.Gas()),
		zap.String("value_eth", id.FormatWei(signed.Value())),
	)
	return signer.Result{Hash: signed.Hash().Hex(), Response: signed}, nil
}

// Wait polls for the receipt until it has the requested confirmations. A
// timeout is returned as a plain error so the caller can wait again later.
func (s *Signer) Wait(ctx context.Context, hash, chainID string, raw any, confirmations int) (signer.Result, error) {
	txHash, ok := normalizeTxHash(hash)
	if !ok {
		return signer.Result{}, signer.AssertionFailed(fmt.Sprintf("invalid transaction hash %q", hash))
	}
	sent, _ := raw.(*types.Transaction)
	if strings.TrimSpace(chainID) == "" && sent != nil && sent.ChainId() != nil && sent.ChainId().Sign() > 0 {
		chainID = sent.ChainId().String()
	}
	cid, err := resolveChainID(chainID, "")
	if err != nil {
		return signer.Result{}, err
	}
	client, err := s.client(ctx, cid)
	if err != nil {
		return signer.Result{}, err
	}

	cfg := s.config()
	if confirmations <= 0 {
		confirmations = cfg.Confirmations
	}
	if confirmations <= 0 {
		confirmations = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := cfg.WaitTimeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(waitCtx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return signer.Result{Hash: hash, Response: receipt}, s.onChainFailure(ctx, client, receipt, sent)
			}
			if confirmed(waitCtx, client, receipt, confirmations) {
				return signer.Result{Hash: hash, Response: receipt}, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			s.logger.Debug("receipt poll failed", zap.String("hash", hash), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return signer.Result{Hash: hash}, fmt.Errorf("timed out waiting for receipt of %s: %w", hash, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func confirmed(ctx context.Context, client Backend, receipt *types.Receipt, confirmations int) bool {
	if confirmations <= 1 || receipt.BlockNumber == nil {
		return true
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return false
	}
	return head+1 >= receipt.BlockNumber.Uint64()+uint64(confirmations)
}

// onChainFailure replays a reverted transaction at its block to recover the
// revert reason.
func (s *Signer) onChainFailure(ctx context.Context, client Backend, receipt *types.Receipt, sent *types.Transaction) *signer.Error {
	root := "execution reverted"
	if sent != nil {
		msg := ethereum.CallMsg{
			From:  s.address,
			To:    sent.To(),
			Gas:   sent.Gas(),
			Value: sent.Value(),
			Data:  sent.Data(),
		}
		_, err := client.CallContract(ctx, msg, receipt.BlockNumber)
		if reason := decodeRevertFromError(err); reason != "" {
			root = "execution reverted: " + reason
		}
	}
	return signer.Classify(signer.KindTxFailedInBlockchain, root)
}

func (s *Signer) buildTx(ctx context.Context, client Backend, chainID *big.Int, in *txs.EvmTransaction) (*types.Transaction, error) {
	if !common.IsHexAddress(in.To) {
		return nil, signer.AssertionFailed(fmt.Sprintf("invalid transaction target %q", in.To))
	}
	to := common.HexToAddress(in.To)
	data, err := decodeHex(deref(in.Data))
	if err != nil {
		return nil, signer.AssertionFailed("invalid calldata: " + err.Error())
	}
	value, err := parseQuantity(deref(in.Value))
	if err != nil {
		return nil, signer.AssertionFailed("invalid value: " + err.Error())
	}

	var nonce uint64
	if in.Nonce != nil && strings.TrimSpace(*in.Nonce) != "" {
		n, err := parseQuantity(*in.Nonce)
		if err != nil {
			return nil, signer.AssertionFailed("invalid nonce: " + err.Error())
		}
		nonce = n.Uint64()
	} else {
		nonce, err = client.PendingNonceAt(ctx, s.address)
		if err != nil {
			return nil, signer.New(signer.KindSendTxError, "", fmt.Errorf("fetch nonce: %w", err))
		}
	}

	var gas uint64
	if in.GasLimit != nil && strings.TrimSpace(*in.GasLimit) != "" {
		g, err := parseQuantity(*in.GasLimit)
		if err != nil {
			return nil, signer.AssertionFailed("invalid gas limit: " + err.Error())
		}
		gas = g.Uint64()
	} else {
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Value: value, Data: data})
		if err != nil {
			return nil, wrapNodeError(signer.KindSendTxError, err)
		}
		gas = uint64(float64(estimated) * s.gasMultiplier)
	}

	if in.GasPrice != nil && in.MaxFeePerGas == nil && in.MaxPriorityFeePerGas == nil {
		price, err := parseQuantity(*in.GasPrice)
		if err != nil {
			return nil, signer.AssertionFailed("invalid gas price: " + err.Error())
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gas,
			GasPrice: price,
			Data:     data,
		}), nil
	}

	tipCap, err := resolveTipCap(ctx, client, deref(in.MaxPriorityFeePerGas))
	if err != nil {
		return nil, err
	}
	var feeCap *big.Int
	if in.MaxFeePerGas != nil && strings.TrimSpace(*in.MaxFeePerGas) != "" {
		feeCap, err = parseQuantity(*in.MaxFeePerGas)
		if err != nil {
			return nil, signer.AssertionFailed("invalid max fee: " + err.Error())
		}
	} else {
		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, signer.New(signer.KindSendTxError, "", fmt.Errorf("fetch latest header: %w", err))
		}
		feeCap = resolveFeeCap(header.BaseFee, tipCap)
	}
	if feeCap.Cmp(tipCap) < 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gas,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	}), nil
}

func resolveTipCap(ctx context.Context, client Backend, given string) (*big.Int, error) {
	if strings.TrimSpace(given) != "" {
		v, err := parseQuantity(given)
		if err != nil {
			return nil, signer.AssertionFailed("invalid priority fee: " + err.Error())
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return new(big.Int).Set(fallbackTipCap), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tipCap)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap)
}

func (s *Signer) client(ctx context.Context, chainID *big.Int) (Backend, error) {
	url, err := registry.ResolveRPCURL(s.config().RPCURLs, chainID.Int64())
	if err != nil {
		return nil, signer.New(signer.KindOperationUnsupported, "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[url]; ok {
		return c, nil
	}
	c, err := s.dial(ctx, url)
	if err != nil {
		return nil, signer.New(signer.KindSendTxError, "", fmt.Errorf("connect rpc: %w", err))
	}
	s.clients[url] = c
	return c, nil
}

func (s *Signer) lockNonce(chainID *big.Int) func() {
	s.mu.Lock()
	m, ok := s.nonces[chainID.String()]
	if !ok {
		m = &sync.Mutex{}
		s.nonces[chainID.String()] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Signer) checkAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	if !common.IsHexAddress(address) || common.HexToAddress(address) != s.address {
		return signer.New(signer.KindOperationUnsupported, fmt.Sprintf("signer holds %s, not %s", s.address.Hex(), address), nil)
	}
	return nil
}

func (s *Signer) logApproval(tx *types.Transaction) {
	spender, amount, ok := decodeApproval(tx.Data())
	if !ok {
		return
	}
	s.logger.Info("sending token approval",
		zap.String("token", tx.To().Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
	)
}

func decodeApproval(data []byte) (common.Address, *big.Int, bool) {
	method, ok := registry.ERC20ABI().Methods["approve"]
	if !ok || len(data) < 4 || !strings.EqualFold(hex.EncodeToString(data[:4]), hex.EncodeToString(method.ID)) {
		return common.Address{}, nil, false
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(values) != 2 {
		return common.Address{}, nil, false
	}
	spender, ok1 := values[0].(common.Address)
	amount, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return common.Address{}, nil, false
	}
	return spender, amount, true
}

func asEVM(tx txs.Transaction) (*txs.EvmTransaction, error) {
	switch v := tx.(type) {
	case *txs.EvmTransaction:
		if v == nil {
			return nil, signer.AssertionFailed("nil EVM transaction")
		}
		return v, nil
	case txs.EvmTransaction:
		return &v, nil
	case nil:
		return nil, signer.AssertionFailed("missing transaction")
	default:
		return nil, signer.Unsupported(fmt.Sprintf("sign %s transaction", tx.Kind()))
	}
}

// resolveChainID prefers the explicit id and falls back to the blockchain's
// registry entry.
func resolveChainID(chainID, blockchain string) (*big.Int, error) {
	if strings.TrimSpace(chainID) != "" {
		cid, err := registry.ParseEVMChainID(chainID)
		if err != nil {
			return nil, signer.New(signer.KindOperationUnsupported, "", err)
		}
		return cid, nil
	}
	if c, ok := registry.LookupChain(blockchain); ok && c.EVMChainID > 0 {
		return big.NewInt(c.EVMChainID), nil
	}
	return nil, signer.New(signer.KindOperationUnsupported, fmt.Sprintf("unknown EVM chain for %q", blockchain), nil)
}

// wrapNodeError classifies a node error and surfaces a decoded revert reason
// ahead of the raw message.
func wrapNodeError(kind signer.ErrorKind, err error) *signer.Error {
	out := signer.Classify(kind, err)
	if reason := decodeRevertFromError(err); reason != "" {
		out = out.WithTrace(reason)
		if out.RPCKind == signer.RPCCallException {
			out.RPCKind = signer.ClassifyRPC("execution reverted: " + reason)
		}
	}
	return out
}

func decodeRevertFromError(err error) string {
	if err == nil {
		return ""
	}
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	var raw []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		b, err := decodeHex(v)
		if err != nil {
			return ""
		}
		raw = b
	case []byte:
		raw = v
	default:
		return ""
	}
	return decodeRevertData(raw)
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("custom error %s", hexutil.Encode(data[:4]))
}

func normalizeTxHash(v string) (common.Hash, bool) {
	clean := strings.TrimSpace(v)
	if !strings.HasPrefix(clean, "0x") || len(clean) != 66 {
		return common.Hash{}, false
	}
	if _, err := hex.DecodeString(clean[2:]); err != nil {
		return common.Hash{}, false
	}
	return common.HexToHash(clean), true
}

// parseQuantity accepts 0x-hex or decimal. Empty is zero.
func parseQuantity(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return new(big.Int), nil
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		if len(clean) == 2 {
			return n, nil
		}
		_, ok = n.SetString(clean[2:], 16)
	} else {
		_, ok = n.SetString(clean, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid quantity %q", v)
	}
	return n, nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
