package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// userRejectedCode is the EIP-1193 error code for a user-declined request.
const userRejectedCode = 4001

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCProvider talks JSON-RPC 2.0 to a wallet node. A circuit breaker wraps
// every call so a dead node costs one timeout, not one per request.
type RPCProvider struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRPCProvider creates a provider for the node at url.
func NewRPCProvider(url string, logger *zap.Logger) *RPCProvider {
	p := &RPCProvider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "wallet-rpc",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("wallet rpc breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

// Accounts calls eth_accounts: already-authorized accounts, no prompt.
func (p *RPCProvider) Accounts(ctx context.Context) ([]string, error) {
	return p.call(ctx, "eth_accounts")
}

// RequestAccounts calls eth_requestAccounts, which may prompt the user.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	return p.call(ctx, "eth_requestAccounts")
}

func (p *RPCProvider) call(ctx context.Context, method string) ([]string, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		return p.do(ctx, method)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (p *RPCProvider) do(ctx context.Context, method string) ([]string, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: []any{}, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet rpc %s: status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == userRejectedCode {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("wallet rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}

	var accounts []string
	if err := json.Unmarshal(rpcResp.Result, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}
