package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/swapexec/internal/txs"
)

// Chain describes a blockchain by the name the swap API uses for it.
type Chain struct {
	Name       string
	Type       txs.Type
	ChainID    string
	EVMChainID int64
	DefaultRPC string
}

var chains = []Chain{
	{Name: "ETH", Type: txs.TypeEVM, EVMChainID: 1, DefaultRPC: "https://eth.llamarpc.com"},
	{Name: "OPTIMISM", Type: txs.TypeEVM, EVMChainID: 10, DefaultRPC: "https://mainnet.optimism.io"},
	{Name: "BSC", Type: txs.TypeEVM, EVMChainID: 56, DefaultRPC: "https://bsc-dataseed.binance.org"},
	{Name: "GNOSIS", Type: txs.TypeEVM, EVMChainID: 100, DefaultRPC: "https://rpc.gnosischain.com"},
	{Name: "POLYGON", Type: txs.TypeEVM, EVMChainID: 137, DefaultRPC: "https://polygon-rpc.com"},
	{Name: "SONIC", Type: txs.TypeEVM, EVMChainID: 146, DefaultRPC: "https://rpc.soniclabs.com"},
	{Name: "ZKSYNC", Type: txs.TypeEVM, EVMChainID: 324, DefaultRPC: "https://mainnet.era.zksync.io"},
	{Name: "MANTLE", Type: txs.TypeEVM, EVMChainID: 5000, DefaultRPC: "https://rpc.mantle.xyz"},
	{Name: "BASE", Type: txs.TypeEVM, EVMChainID: 8453, DefaultRPC: "https://mainnet.base.org"},
	{Name: "ARBITRUM", Type: txs.TypeEVM, EVMChainID: 42161, DefaultRPC: "https://arb1.arbitrum.io/rpc"},
	{Name: "CELO", Type: txs.TypeEVM, EVMChainID: 42220, DefaultRPC: "https://forno.celo.org"},
	{Name: "AVAX_CCHAIN", Type: txs.TypeEVM, EVMChainID: 43114, DefaultRPC: "https://api.avax.network/ext/bc/C/rpc"},
	{Name: "LINEA", Type: txs.TypeEVM, EVMChainID: 59144, DefaultRPC: "https://rpc.linea.build"},
	{Name: "BERACHAIN", Type: txs.TypeEVM, EVMChainID: 80094, DefaultRPC: "https://rpc.berachain.com"},
	{Name: "BLAST", Type: txs.TypeEVM, EVMChainID: 81457, DefaultRPC: "https://rpc.blast.io"},
	{Name: "TAIKO", Type: txs.TypeEVM, EVMChainID: 167000, DefaultRPC: "https://rpc.mainnet.taiko.xyz"},
	{Name: "SCROLL", Type: txs.TypeEVM, EVMChainID: 534352, DefaultRPC: "https://rpc.scroll.io"},
	{Name: "SOLANA", Type: txs.TypeSolana, ChainID: "mainnet-beta", DefaultRPC: "https://api.mainnet-beta.solana.com"},
	{Name: "COSMOS", Type: txs.TypeCosmos, ChainID: "cosmoshub-4"},
	{Name: "OSMOSIS", Type: txs.TypeCosmos, ChainID: "osmosis-1"},
	{Name: "BTC", Type: txs.TypeTransfer},
	{Name: "TRON", Type: txs.TypeTron, ChainID: "0x2b6653dc"},
	{Name: "STARKNET", Type: txs.TypeStarknet, ChainID: "SN_MAIN"},
	{Name: "SUI", Type: txs.TypeSui},
	{Name: "TON", Type: txs.TypeTon, ChainID: txs.TonMainnet},
	{Name: "XRPL", Type: txs.TypeXRPL},
}

var (
	chainByName = func() map[string]Chain {
		out := make(map[string]Chain, len(chains))
		for _, c := range chains {
			if c.EVMChainID != 0 {
				c.ChainID = strconv.FormatInt(c.EVMChainID, 10)
			}
			out[c.Name] = c
		}
		return out
	}()
	chainByEVMID = func() map[int64]Chain {
		out := map[int64]Chain{}
		for _, c := range chainByName {
			if c.EVMChainID != 0 {
				out[c.EVMChainID] = c
			}
		}
		return out
	}()
)

// LookupChain resolves a blockchain name case-insensitively.
func LookupChain(name string) (Chain, bool) {
	c, ok := chainByName[strings.ToUpper(strings.TrimSpace(name))]
	return c, ok
}

func Chains() []Chain {
	out := make([]Chain, 0, len(chainByName))
	for _, c := range chainByName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChainIDs returns blockchain name to chain id. Entries in overrides, such as
// ids from the API metadata catalog, win over the static table.
func ChainIDs(overrides map[string]string) map[string]string {
	out := make(map[string]string, len(chainByName)+len(overrides))
	for name, c := range chainByName {
		if c.ChainID != "" {
			out[name] = c.ChainID
		}
	}
	for name, id := range overrides {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if n, err := ParseEVMChainID(id); err == nil {
			id = n.String()
		}
		out[strings.ToUpper(strings.TrimSpace(name))] = strings.TrimSpace(id)
	}
	return out
}

func DefaultRPCURL(chainID int64) (string, bool) {
	c, ok := chainByEVMID[chainID]
	if !ok || c.DefaultRPC == "" {
		return "", false
	}
	return c.DefaultRPC, true
}

// ResolveRPCURL picks the endpoint for an EVM chain id. overrides may be keyed
// by chain id or blockchain name.
func ResolveRPCURL(overrides map[string]string, chainID int64) (string, error) {
	if v := strings.TrimSpace(overrides[strconv.FormatInt(chainID, 10)]); v != "" {
		return v, nil
	}
	if c, ok := chainByEVMID[chainID]; ok {
		if v := strings.TrimSpace(overrides[c.Name]); v != "" {
			return v, nil
		}
	}
	if v, ok := DefaultRPCURL(chainID); ok {
		return v, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set SWAPEXEC_RPC_<CHAIN>", chainID)
}

// ParseEVMChainID accepts decimal, 0x-hex and eip155-prefixed ids.
func ParseEVMChainID(v string) (*big.Int, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "eip155:"))
	if clean == "" {
		return nil, fmt.Errorf("empty chain id")
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		_, ok = n.SetString(clean[2:], 16)
	} else {
		_, ok = n.SetString(clean, 10)
	}
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %q", v)
	}
	return n, nil
}
