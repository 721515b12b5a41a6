package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Asset identifies a token as BLOCKCHAIN.SYMBOL or BLOCKCHAIN.SYMBOL--ADDRESS.
type Asset struct {
	Blockchain string  `json:"blockchain"`
	Symbol     string  `json:"symbol"`
	Address    *string `json:"address"`
}

func (a Asset) String() string {
	s := strings.ToUpper(a.Blockchain) + "." + a.Symbol
	if a.Address != nil && strings.TrimSpace(*a.Address) != "" {
		s += "--" + strings.TrimSpace(*a.Address)
	}
	return s
}

// ParseAsset reads the BLOCKCHAIN.SYMBOL[--ADDRESS] form.
func ParseAsset(v string) (Asset, error) {
	clean := strings.TrimSpace(v)
	chain, rest, ok := strings.Cut(clean, ".")
	if !ok || chain == "" || rest == "" {
		return Asset{}, fmt.Errorf("invalid asset %q (expected BLOCKCHAIN.SYMBOL[--ADDRESS])", v)
	}
	a := Asset{Blockchain: strings.ToUpper(chain), Symbol: rest}
	if symbol, addr, found := strings.Cut(rest, "--"); found {
		if symbol == "" || addr == "" {
			return Asset{}, fmt.Errorf("invalid asset %q (expected BLOCKCHAIN.SYMBOL[--ADDRESS])", v)
		}
		a.Symbol = symbol
		a.Address = &addr
	}
	return a, nil
}

type SwapResultAsset struct {
	Blockchain string   `json:"blockchain"`
	Address    *string  `json:"address"`
	Symbol     string   `json:"symbol"`
	Logo       string   `json:"logo"`
	Decimals   int      `json:"decimals"`
	USDPrice   *float64 `json:"usdPrice"`
}

type SwapFee struct {
	Name        string   `json:"name"`
	ExpenseType string   `json:"expenseType"`
	Asset       Asset    `json:"asset"`
	Amount      string   `json:"amount"`
	Price       *float64 `json:"price"`
}

type SwapResult struct {
	SwapperID              string          `json:"swapperId"`
	SwapperType            string          `json:"swapperType"`
	SwapChainType          string          `json:"swapChainType"`
	From                   SwapResultAsset `json:"from"`
	To                     SwapResultAsset `json:"to"`
	FromAmount             string          `json:"fromAmount"`
	ToAmount               string          `json:"toAmount"`
	Fee                    []SwapFee       `json:"fee"`
	EstimatedTimeInSeconds int64           `json:"estimatedTimeInSeconds"`
	MaxRequiredSign        int             `json:"maxRequiredSign"`
	Warnings               []string        `json:"warnings"`
}

type SimulationResult struct {
	OutputAmount string       `json:"outputAmount"`
	ResultType   string       `json:"resultType"`
	Swaps        []SwapResult `json:"swaps"`
}

// BestRouteRequest is the route query. Wallets maps blockchain to address.
type BestRouteRequest struct {
	From             Asset
	To               Asset
	Amount           string
	Slippage         string
	Wallets          map[string]string
	ExcludeSwappers  []string
	DisableMultiStep bool
}

type BestRouteResponse struct {
	RequestID          string            `json:"requestId"`
	RequestAmount      string            `json:"requestAmount"`
	From               Asset             `json:"from"`
	To                 Asset             `json:"to"`
	Result             *SimulationResult `json:"result"`
	DiagnosisMessages  []string          `json:"diagnosisMessages"`
	MissingBlockchains []string          `json:"missingBlockchains"`
}

type UserSettings struct {
	Slippage        string `json:"slippage"`
	InfiniteApprove bool   `json:"infiniteApprove,omitempty"`
}

type CreateTransactionValidation struct {
	Balance bool `json:"balance"`
	Fee     bool `json:"fee"`
	Approve bool `json:"approve"`
}

type CreateTransactionRequest struct {
	RequestID    string                      `json:"requestId"`
	Step         int                         `json:"step"`
	UserSettings UserSettings                `json:"userSettings"`
	Validations  CreateTransactionValidation `json:"validations"`
}

type CreateTransactionResponse struct {
	OK          bool            `json:"ok"`
	Error       *string         `json:"error"`
	Transaction json.RawMessage `json:"transaction"`
}

type CheckTxStatusRequest struct {
	RequestID string `json:"requestId"`
	Step      int    `json:"step"`
	TxID      string `json:"txId"`
}

type SwapExplorerURL struct {
	Description *string `json:"description"`
	URL         string  `json:"url"`
}

type TransactionStatusResponse struct {
	Status       *string           `json:"status"`
	Timestamp    *int64            `json:"timestamp"`
	ExtraMessage *string           `json:"extraMessage"`
	OutputAmount *string           `json:"outputAmount"`
	DiagnosisURL *string           `json:"diagnosisUrl"`
	ExplorerURL  []SwapExplorerURL `json:"explorerUrl"`
}

type ReportTags struct {
	Wallet    string `json:"wallet,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type ReportTransactionRequest struct {
	RequestID string            `json:"requestId"`
	EventType string            `json:"eventType"`
	Step      int               `json:"step,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Tags      *ReportTags       `json:"tags,omitempty"`
}

type BlockchainMeta struct {
	Name            string  `json:"name"`
	ShortName       string  `json:"shortName"`
	DisplayName     string  `json:"displayName"`
	DefaultDecimals int     `json:"defaultDecimals"`
	Type            string  `json:"type"`
	ChainID         *string `json:"chainId"`
	Enabled         bool    `json:"enabled"`
}
