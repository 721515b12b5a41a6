// Package solana implements the signer capability for Solana transactions.
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/ggonzalez94/swapexec/internal/signer"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"go.uber.org/zap"
)

const (
	EnvPrivateKey  = "SWAPEXEC_SOLANA_PRIVATE_KEY"
	EnvKeypairPath = "SWAPEXEC_SOLANA_KEYPAIR"

	// RPCKey is the signer.Config.RPCURLs entry read by this signer.
	RPCKey = "SOLANA"

	defaultPollInterval = 2 * time.Second
	defaultWaitTimeout  = 2 * time.Minute
)

// RPCClient is the node surface the signer needs. *rpc.Client satisfies it.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type Option func(*Signer)

// WithRPCClient pins the client and skips endpoint resolution.
func WithRPCClient(c RPCClient) Option {
	return func(s *Signer) {
		if c != nil {
			s.client = c
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

type Signer struct {
	key    solana.PrivateKey
	pub    solana.PublicKey
	logger *zap.Logger

	mu     sync.Mutex
	cfg    signer.Config
	client RPCClient
}

func New(key solana.PrivateKey, opts ...Option) (*Signer, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("solana signer: invalid private key length %d", len(key))
	}
	s := &Signer{key: key, pub: key.PublicKey(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadKey reads a base58 key from override or SWAPEXEC_SOLANA_PRIVATE_KEY, then
// falls back to a solana-keygen JSON file.
func LoadKey(override, keypairPath string) (solana.PrivateKey, error) {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(EnvPrivateKey))
	}
	if raw != "" {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("parse solana private key: %w", err)
		}
		return key, nil
	}
	path := strings.TrimSpace(keypairPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvKeypairPath))
	}
	if path == "" {
		return nil, fmt.Errorf("missing solana key: set %s or %s", EnvPrivateKey, EnvKeypairPath)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read solana keypair: %w", err)
	}
	var keyBytes []byte
	if err := json.Unmarshal(buf, &keyBytes); err != nil {
		return nil, fmt.Errorf("decode solana keypair: %w", err)
	}
	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("decode solana keypair: expected 64 bytes, got %d", len(keyBytes))
	}
	return solana.PrivateKey(keyBytes), nil
}

func (s *Signer) Address() string { return s.pub.String() }

func (s *Signer) SetConfig(cfg signer.Config) error {
	if cfg.Confirmations < 0 {
		return fmt.Errorf("solana signer: confirmations must be >= 0")
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

func (s *Signer) rpcClient() RPCClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		url := strings.TrimSpace(s.cfg.RPCURLs[RPCKey])
		if url == "" {
			url = rpc.MainNetBeta_RPC
		}
		s.client = rpc.New(url)
	}
	return s.client
}

// SignMessage returns the base58 ed25519 signature of msg.
func (s *Signer) SignMessage(_ context.Context, msg, address, _ string) (string, error) {
	if err := s.checkAddress(address); err != nil {
		return "", err
	}
	sig, err := s.key.Sign([]byte(msg))
	if err != nil {
		return "", signer.New(signer.KindSignTxError, "", err)
	}
	return sig.String(), nil
}

func (s *Signer) SignAndSendTx(ctx context.Context, tx txs.Transaction, address, _ string) (signer.Result, error) {
	solTx, err := asSolana(tx)
	if err != nil {
		return signer.Result{}, err
	}
	if err := s.checkAddress(address); err != nil {
		return signer.Result{}, err
	}
	if err := s.checkAddress(solTx.From); err != nil {
		return signer.Result{}, err
	}
	client := s.rpcClient()

	built, err := s.build(ctx, client, solTx)
	if err != nil {
		return signer.Result{}, err
	}
	if err := s.sign(built); err != nil {
		return signer.Result{}, err
	}
	sig, err := client.SendTransactionWithOpts(ctx, built, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return signer.Result{}, signer.Classify(signer.KindSendTxError, err)
	}
	s.logger.Debug("transaction broadcast",
		zap.String("signature", sig.String()),
		zap.String("identifier", solTx.Identifier),
	)
	return signer.Result{Hash: sig.String(), Response: built}, nil
}

// Wait polls the signature status. One confirmation means the confirmed
// commitment level; more require that many confirmations or finalization.
func (s *Signer) Wait(ctx context.Context, hash, _ string, _ any, confirmations int) (signer.Result, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(hash))
	if err != nil {
		return signer.Result{}, signer.AssertionFailed(fmt.Sprintf("invalid transaction signature %q", hash))
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
	client := s.rpcClient()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		out, err := client.GetSignatureStatuses(waitCtx, true, sig)
		if err != nil {
			s.logger.Debug("signature status poll failed", zap.String("signature", hash), zap.Error(err))
		} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return signer.Result{Hash: hash, Response: st}, signer.Classify(signer.KindTxFailedInBlockchain, st.Err)
			}
			if settled(st, confirmations) {
				return signer.Result{Hash: hash, Response: st}, nil
			}
		}
		select {
		case <-waitCtx.Done():
			return signer.Result{Hash: hash}, fmt.Errorf("timed out waiting for signature %s: %w", hash, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func settled(st *rpc.SignatureStatusesResult, confirmations int) bool {
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		if confirmations <= 1 {
			return true
		}
		return st.Confirmations != nil && *st.Confirmations >= uint64(confirmations)
	}
	return false
}

func (s *Signer) build(ctx context.Context, client RPCClient, in *txs.SolanaTransaction) (*solana.Transaction, error) {
	if len(in.SerializedMessage) > 0 {
		raw, err := intsToBytes(in.SerializedMessage)
		if err != nil {
			return nil, signer.AssertionFailed("invalid serialized message: " + err.Error())
		}
		var msg solana.Message
		if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
			return nil, signer.AssertionFailed("decode serialized message: " + err.Error())
		}
		tx := &solana.Transaction{Message: msg}
		if err := prefill(tx, in.Signatures); err != nil {
			return nil, err
		}
		return tx, nil
	}

	if len(in.Instructions) == 0 {
		return nil, signer.AssertionFailed("solana transaction has neither message nor instructions")
	}
	instructions := make([]solana.Instruction, 0, len(in.Instructions))
	for i, ix := range in.Instructions {
		built, err := buildInstruction(ix)
		if err != nil {
			return nil, signer.AssertionFailed(fmt.Sprintf("instruction %d: %v", i, err))
		}
		instructions = append(instructions, built)
	}
	blockhash, err := s.blockhash(ctx, client, in.RecentBlockhash)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(s.pub))
	if err != nil {
		return nil, signer.AssertionFailed("create transaction: " + err.Error())
	}
	if err := prefill(tx, in.Signatures); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Signer) blockhash(ctx context.Context, client RPCClient, given *string) (solana.Hash, error) {
	if given != nil && strings.TrimSpace(*given) != "" {
		h, err := solana.HashFromBase58(strings.TrimSpace(*given))
		if err != nil {
			return solana.Hash{}, signer.AssertionFailed("invalid recent blockhash: " + err.Error())
		}
		return h, nil
	}
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, signer.Classify(signer.KindSendTxError, fmt.Errorf("get latest blockhash: %w", err))
	}
	if recent == nil || recent.Value == nil {
		return solana.Hash{}, signer.New(signer.KindSendTxError, "", "empty blockhash response")
	}
	return recent.Value.Blockhash, nil
}

// prefill places signatures collected by other parties at their signer slots.
func prefill(tx *solana.Transaction, given []txs.SolanaSignature) error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		return signer.AssertionFailed("message requires more signatures than it has accounts")
	}
	tx.Signatures = make([]solana.Signature, n)
	for _, g := range given {
		pub, err := solana.PublicKeyFromBase58(g.PublicKey)
		if err != nil {
			return signer.AssertionFailed("invalid signature public key: " + err.Error())
		}
		raw, err := intsToBytes(g.Signature)
		if err != nil || len(raw) != len(solana.Signature{}) {
			return signer.AssertionFailed(fmt.Sprintf("invalid signature for %s", g.PublicKey))
		}
		for i := 0; i < n; i++ {
			if tx.Message.AccountKeys[i].Equals(pub) {
				copy(tx.Signatures[i][:], raw)
			}
		}
	}
	return nil
}

func (s *Signer) sign(tx *solana.Transaction) error {
	required := false
	for i := 0; i < len(tx.Signatures); i++ {
		if tx.Message.AccountKeys[i].Equals(s.pub) {
			required = true
		}
	}
	if !required {
		return signer.New(signer.KindOperationUnsupported, fmt.Sprintf("%s is not a signer of this transaction", s.pub), nil)
	}
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.pub) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return signer.New(signer.KindSignTxError, "", err)
	}
	return nil
}

func buildInstruction(ix txs.SolanaInstruction) (solana.Instruction, error) {
	program, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	accounts := make(solana.AccountMetaSlice, 0, len(ix.Keys))
	for _, k := range ix.Keys {
		pub, err := solana.PublicKeyFromBase58(k.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", k.Pubkey, err)
		}
		accounts = append(accounts, &solana.AccountMeta{PublicKey: pub, IsSigner: k.IsSigner, IsWritable: k.IsWritable})
	}
	data, err := intsToBytes(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return solana.NewInstruction(program, accounts, data), nil
}

func (s *Signer) checkAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" || address == s.pub.String() {
		return nil
	}
	return signer.New(signer.KindOperationUnsupported, fmt.Sprintf("signer holds %s, not %s", s.pub, address), nil)
}

func asSolana(tx txs.Transaction) (*txs.SolanaTransaction, error) {
	switch v := tx.(type) {
	case *txs.SolanaTransaction:
		if v == nil {
			return nil, signer.AssertionFailed("nil Solana transaction")
		}
		return v, nil
	case txs.SolanaTransaction:
		return &v, nil
	case nil:
		return nil, signer.AssertionFailed("missing transaction")
	default:
		return nil, signer.Unsupported(fmt.Sprintf("sign %s transaction", tx.Kind()))
	}
}

// intsToBytes converts the JSON number arrays used on the wire.
func intsToBytes(in []int) ([]byte, error) {
	out := make([]byte, len(in))
	for i, v := range in {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}
