package wallet_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mihir-28/blockchain-scm/internal/wallet"
	"go.uber.org/zap"
)

type stubProvider struct {
	accounts []string
	err      error
}

func (s *stubProvider) Accounts(context.Context) ([]string, error)        { return s.accounts, s.err }
func (s *stubProvider) RequestAccounts(context.Context) ([]string, error) { return s.accounts, s.err }

func TestBootstrapNilProvider(t *testing.T) {
	st := wallet.Bootstrap(context.Background(), nil, nil, zap.NewNop())
	if st.Connected {
		t.Fatal("expected not connected without a provider")
	}
}

func TestBootstrapDegradesOnError(t *testing.T) {
	p := &stubProvider{err: errors.New("node down")}
	st := wallet.Bootstrap(context.Background(), p, nil, zap.NewNop())
	if st.Connected {
		t.Fatal("expected not connected when the node is down")
	}
}

func TestBootstrapPersistsFirstAccount(t *testing.T) {
	p := &stubProvider{accounts: []string{"0xabc", "0xdef"}}
	var persisted string
	update := func(_ context.Context, addr string) bool {
		persisted = addr
		return true
	}

	st := wallet.Bootstrap(context.Background(), p, update, zap.NewNop())
	if !st.Connected || st.Address != "0xabc" {
		t.Fatalf("status = %+v, want connected 0xabc", st)
	}
	if persisted != "0xabc" {
		t.Fatalf("persisted = %q", persisted)
	}
}

func TestBootstrapEmptyAccounts(t *testing.T) {
	p := &stubProvider{accounts: nil}
	st := wallet.Bootstrap(context.Background(), p, nil, zap.NewNop())
	if st.Connected {
		t.Fatal("expected not connected with no authorized accounts")
	}
}

func TestBootstrapSurvivesPersistFailure(t *testing.T) {
	p := &stubProvider{accounts: []string{"0xabc"}}
	update := func(context.Context, string) bool { return false }

	st := wallet.Bootstrap(context.Background(), p, update, zap.NewNop())
	if !st.Connected || st.Address != "0xabc" {
		t.Fatalf("status = %+v, want connected despite persist failure", st)
	}
}

func TestConnectReturnsErrors(t *testing.T) {
	if _, err := wallet.Connect(context.Background(), nil, nil, zap.NewNop()); !errors.Is(err, wallet.ErrUnavailable) {
		t.Fatalf("nil provider err = %v, want ErrUnavailable", err)
	}

	p := &stubProvider{err: wallet.ErrRejected}
	if _, err := wallet.Connect(context.Background(), p, nil, zap.NewNop()); !errors.Is(err, wallet.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestRPCProviderAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":["0x1111111111111111111111111111111111111111"]}`))
	}))
	defer srv.Close()

	p := wallet.NewRPCProvider(srv.URL, zap.NewNop())
	accounts, err := p.Accounts(context.Background())
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("accounts = %v", accounts)
	}
}

func TestRPCProviderUserRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":4001,"message":"User rejected the request."}}`))
	}))
	defer srv.Close()

	p := wallet.NewRPCProvider(srv.URL, zap.NewNop())
	_, err := p.RequestAccounts(context.Background())
	if !errors.Is(err, wallet.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}
