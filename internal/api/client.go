// Package api is the client for the swap aggregator's routing, transaction
// and metadata endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/ggonzalez94/swapexec/internal/execution"
	"github.com/ggonzalez94/swapexec/internal/httpx"
	"github.com/ggonzalez94/swapexec/internal/txs"
	"github.com/shopspring/decimal"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, baseURL, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
	}
}

func (c *Client) endpoint(path string, vals url.Values) string {
	if vals == nil {
		vals = url.Values{}
	}
	if c.apiKey != "" {
		vals.Set("apiKey", c.apiKey)
	}
	u := c.baseURL + path
	if q := vals.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

func (c *Client) get(ctx context.Context, path string, vals url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, vals), nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build api request", err)
	}
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode api request", err)
	}
	_, err = httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.endpoint(path, nil), buf, nil, out)
	return err
}

func (c *Client) BestRoute(ctx context.Context, req BestRouteRequest) (BestRouteResponse, error) {
	if strings.TrimSpace(req.Amount) == "" {
		return BestRouteResponse{}, clierr.New(clierr.CodeUsage, "route amount is required")
	}
	vals := url.Values{}
	vals.Set("from", req.From.String())
	vals.Set("to", req.To.String())
	vals.Set("amount", req.Amount)
	if req.Slippage != "" {
		vals.Set("slippage", req.Slippage)
	}
	if len(req.Wallets) > 0 {
		pairs := make([]string, 0, len(req.Wallets))
		for chain, addr := range req.Wallets {
			pairs = append(pairs, strings.ToUpper(chain)+"."+addr)
		}
		slices.Sort(pairs)
		vals.Set("selectedWallets", strings.Join(pairs, ","))
	}
	if len(req.ExcludeSwappers) > 0 {
		vals.Set("swappers", strings.Join(req.ExcludeSwappers, ","))
		vals.Set("swappersExclude", "true")
	}
	if req.DisableMultiStep {
		vals.Set("disableMultiStepTx", "true")
	}

	var resp BestRouteResponse
	if err := c.get(ctx, "/routing/best", vals, &resp); err != nil {
		return BestRouteResponse{}, err
	}
	if resp.Result == nil || len(resp.Result.Swaps) == 0 {
		msg := "no route found"
		if len(resp.DiagnosisMessages) > 0 {
			msg += ": " + strings.Join(resp.DiagnosisMessages, "; ")
		}
		return resp, clierr.New(clierr.CodeUnavailable, msg)
	}
	return resp, nil
}

// CreateTransaction asks for the next transaction of a step.
func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (txs.Transaction, error) {
	var resp CreateTransactionResponse
	if err := c.post(ctx, "/tx/create", req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		msg := "create transaction failed"
		if resp.Error != nil && strings.TrimSpace(*resp.Error) != "" {
			msg += ": " + strings.TrimSpace(*resp.Error)
		}
		return nil, clierr.New(clierr.CodeUnavailable, msg)
	}
	if len(resp.Transaction) == 0 || string(resp.Transaction) == "null" {
		return nil, clierr.New(clierr.CodeUnavailable, "create transaction returned no transaction")
	}
	tx, err := txs.Decode(resp.Transaction)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "decode created transaction", err)
	}
	return tx, nil
}

func (c *Client) TransactionStatus(ctx context.Context, req CheckTxStatusRequest) (TransactionStatusResponse, error) {
	var resp TransactionStatusResponse
	if err := c.post(ctx, "/tx/check-status", req, &resp); err != nil {
		return TransactionStatusResponse{}, err
	}
	return resp, nil
}

// CheckStatus adapts TransactionStatus for the execution engine.
func (c *Client) CheckStatus(ctx context.Context, requestID string, stepID int, txID string) (execution.StatusUpdate, error) {
	resp, err := c.TransactionStatus(ctx, CheckTxStatusRequest{RequestID: requestID, Step: stepID, TxID: txID})
	if err != nil {
		return execution.StatusUpdate{}, err
	}
	return StatusUpdate(resp), nil
}

// StatusUpdate maps a status response. A missing status means still running.
func StatusUpdate(resp TransactionStatusResponse) execution.StatusUpdate {
	update := execution.StatusUpdate{Outcome: execution.OutcomeRunning}
	if resp.Status != nil {
		switch strings.ToLower(strings.TrimSpace(*resp.Status)) {
		case "success":
			update.Outcome = execution.OutcomeSuccess
		case "failed":
			update.Outcome = execution.OutcomeFailed
		}
	}
	update.OutputAmount = deref(resp.OutputAmount)
	update.DiagnosisURL = deref(resp.DiagnosisURL)
	update.Message = deref(resp.ExtraMessage)
	for _, u := range resp.ExplorerURL {
		if strings.TrimSpace(u.URL) == "" {
			continue
		}
		update.ExplorerURLs = append(update.ExplorerURLs, execution.ExplorerURL{Description: deref(u.Description), URL: u.URL})
	}
	return update
}

// Report implements execution.Reporter.
func (c *Client) Report(ctx context.Context, report execution.FailureReport) error {
	body := ReportTransactionRequest{
		RequestID: report.RequestID,
		EventType: report.EventType,
		Step:      report.StepID,
		Reason:    report.Reason,
		Data:      report.Data,
	}
	if report.Wallet != "" || report.ErrorCode != "" {
		body.Tags = &ReportTags{Wallet: report.Wallet, ErrorCode: report.ErrorCode}
	}
	return c.post(ctx, "/tx/report-tx", body, nil)
}

func (c *Client) Blockchains(ctx context.Context) ([]BlockchainMeta, error) {
	var resp []BlockchainMeta
	if err := c.get(ctx, "/meta/blockchains", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ChainIDOverrides extracts name to chain id pairs for enabled chains.
func ChainIDOverrides(metas []BlockchainMeta) map[string]string {
	out := make(map[string]string, len(metas))
	for _, m := range metas {
		if !m.Enabled || m.ChainID == nil || strings.TrimSpace(*m.ChainID) == "" {
			continue
		}
		out[strings.ToUpper(m.Name)] = strings.TrimSpace(*m.ChainID)
	}
	return out
}

// StepRoutes turns a simulated route into the steps of a new pending swap.
func StepRoutes(result SimulationResult) []execution.StepRoute {
	steps := make([]execution.StepRoute, 0, len(result.Swaps))
	for _, s := range result.Swaps {
		steps = append(steps, execution.StepRoute{
			FromBlockchain:                    s.From.Blockchain,
			FromSymbol:                        s.From.Symbol,
			FromSymbolAddress:                 deref(s.From.Address),
			FromDecimals:                      s.From.Decimals,
			FromAmount:                        s.FromAmount,
			FromLogo:                          s.From.Logo,
			FromUSDPrice:                      s.From.USDPrice,
			ToBlockchain:                      s.To.Blockchain,
			ToSymbol:                          s.To.Symbol,
			ToSymbolAddress:                   deref(s.To.Address),
			ToDecimals:                        s.To.Decimals,
			ToLogo:                            s.To.Logo,
			ToUSDPrice:                        s.To.USDPrice,
			SwapperID:                         s.SwapperID,
			SwapperType:                       s.SwapperType,
			ExpectedOutputAmountHumanReadable: s.ToAmount,
			EstimatedTimeInSeconds:            s.EstimatedTimeInSeconds,
			FeeInUSD:                          FeeInUSD(s.Fee),
		})
	}
	return steps
}

// FeeInUSD sums priced fees. Unpriced or unparseable fees are skipped.
func FeeInUSD(fees []SwapFee) string {
	total := decimal.Zero
	for _, f := range fees {
		if f.Price == nil {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(f.Amount))
		if err != nil {
			continue
		}
		total = total.Add(amount.Mul(decimal.NewFromFloat(*f.Price)))
	}
	return total.StringFixed(2)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
