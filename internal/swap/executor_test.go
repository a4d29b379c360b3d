package swap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"rpc-router-go/internal/config"
	"rpc-router-go/internal/jupiter"
	"rpc-router-go/internal/logger"
	"rpc-router-go/internal/wallet"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LogConfig{Level: "panic", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

func testWallet(t *testing.T, log *logger.Logger) *wallet.Wallet {
	t.Helper()
	account := types.NewAccount()
	t.Setenv("TEST_SWAP_PRIVATE_KEY", base58.Encode(account.PrivateKey))
	w, err := wallet.Load(config.WalletConfig{
		PrivateKeyEnv: "TEST_SWAP_PRIVATE_KEY",
		MnemonicEnv:   "TEST_SWAP_MNEMONIC",
	}, nil, log.Logger)
	if err != nil {
		t.Fatalf("wallet.Load: %v", err)
	}
	return w
}

func aggregatorStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v6/quote":
			json.NewEncoder(w).Encode(jupiter.QuoteResponse{
				InputMint:   r.URL.Query().Get("inputMint"),
				InAmount:    r.URL.Query().Get("amount"),
				OutputMint:  r.URL.Query().Get("outputMint"),
				OutAmount:   "153000000",
				SwapMode:    "ExactIn",
				SlippageBps: 50,
			})
		case "/v6/swap":
			json.NewEncoder(w).Encode(jupiter.SwapResponse{
				SwapTransaction:      "c3dhcC10eA==",
				LastValidBlockHeight: 250000000,
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestDryRunStopsBeforeSending(t *testing.T) {
	server := aggregatorStub(t)
	defer server.Close()

	log := testLogger(t)
	w := testWallet(t, log)
	jup := jupiter.NewClient(jupiter.ClientConfig{BaseURL: server.URL}, log.Logger)

	historyDir := t.TempDir()
	history, err := logger.NewHistoryWriter(historyDir, log)
	if err != nil {
		t.Fatalf("NewHistoryWriter: %v", err)
	}

	// No RPC client wired: a dry run that reached the network would panic.
	exec := NewExecutor(jup, w, nil, config.SwapConfig{
		SlippageBP: 50,
		DryRun:     true,
	}, log, history)

	result, err := exec.Execute(context.Background(),
		config.NativeSOLMint, config.USDCMint, 1_000_000_000)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.DryRun {
		t.Error("result not marked as dry run")
	}
	if result.Signature != "" {
		t.Errorf("dry run produced a signature: %s", result.Signature)
	}
	if result.OutAmount != 153000000 {
		t.Errorf("OutAmount = %d, want 153000000", result.OutAmount)
	}

	// The attempt still lands in the history file.
	name := "swaps_" + time.Now().Format("2006-01-02") + ".jsonl"
	payload, err := os.ReadFile(filepath.Join(historyDir, name))
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var rec logger.SwapRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(payload))), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Status != "dry_run" || rec.InAmount != 1_000_000_000 {
		t.Errorf("record = %+v, want dry_run with the input amount", rec)
	}
}

func TestQuoteFailureIsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	log := testLogger(t)
	w := testWallet(t, log)
	jup := jupiter.NewClient(jupiter.ClientConfig{BaseURL: server.URL}, log.Logger)

	historyDir := t.TempDir()
	history, err := logger.NewHistoryWriter(historyDir, log)
	if err != nil {
		t.Fatalf("NewHistoryWriter: %v", err)
	}

	exec := NewExecutor(jup, w, nil, config.SwapConfig{SlippageBP: 50, DryRun: true}, log, history)
	if _, err := exec.Execute(context.Background(), config.NativeSOLMint, config.USDCMint, 1); err == nil {
		t.Fatal("expected quote failure")
	}

	name := "swaps_" + time.Now().Format("2006-01-02") + ".jsonl"
	payload, err := os.ReadFile(filepath.Join(historyDir, name))
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var rec logger.SwapRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(payload))), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Status != "failed" || rec.ErrorMessage == "" {
		t.Errorf("record = %+v, want failed with an error message", rec)
	}
}
