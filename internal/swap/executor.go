package swap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rpc-router-go/internal/config"
	"rpc-router-go/internal/jupiter"
	"rpc-router-go/internal/logger"
	"rpc-router-go/internal/rpc"
	"rpc-router-go/internal/wallet"
)

// Result describes one completed swap attempt.
type Result struct {
	Signature string
	InAmount  uint64
	OutAmount uint64
	DryRun    bool
	Latency   time.Duration
}

// Executor runs the quote, build, sign, send, confirm pipeline.
type Executor struct {
	jup       *jupiter.Client
	wallet    *wallet.Wallet
	rpcClient *rpc.Client
	config    config.SwapConfig
	logger    *logger.Logger
	history   *logger.HistoryWriter
}

// NewExecutor wires the pipeline. history may be nil to disable persistence.
func NewExecutor(jup *jupiter.Client, w *wallet.Wallet, rpcClient *rpc.Client,
	cfg config.SwapConfig, log *logger.Logger, history *logger.HistoryWriter) *Executor {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.ConfirmPollEvery == 0 {
		cfg.ConfirmPollEvery = 2 * time.Second
	}
	return &Executor{
		jup:       jup,
		wallet:    w,
		rpcClient: rpcClient,
		config:    cfg,
		logger:    log,
		history:   history,
	}
}

// Execute swaps amount of inputMint into outputMint at the configured
// slippage. In dry-run mode the pipeline stops after the transaction is
// built; nothing reaches the network.
func (e *Executor) Execute(ctx context.Context, inputMint, outputMint string, amount uint64) (*Result, error) {
	start := time.Now()
	e.logger.LogSwapAttempt(inputMint, outputMint, amount)

	quote, err := e.jup.GetQuote(ctx, jupiter.QuoteRequest{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		Amount:      amount,
		SlippageBps: e.config.SlippageBP,
	})
	if err != nil {
		e.record(inputMint, outputMint, amount, 0, "", "failed", err, start)
		return nil, fmt.Errorf("quote failed: %w", err)
	}
	outAmount, _ := strconv.ParseUint(quote.OutAmount, 10, 64)

	swapResp, err := e.jup.BuildSwap(ctx, jupiter.SwapRequest{
		QuoteResponse:           *quote,
		UserPublicKey:           e.wallet.PublicKeyString(),
		WrapAndUnwrapSol:        e.config.WrapAndUnwrapSol,
		PriorityFeeLamports:     e.config.PriorityFee,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		e.record(inputMint, outputMint, amount, outAmount, "", "failed", err, start)
		return nil, fmt.Errorf("swap build failed: %w", err)
	}

	if e.config.DryRun {
		e.logger.WithFields(map[string]interface{}{
			"input_mint":  inputMint,
			"output_mint": outputMint,
			"in_amount":   amount,
			"out_amount":  quote.OutAmount,
		}).Info("Dry run: swap transaction built, not sent")
		e.record(inputMint, outputMint, amount, outAmount, "", "dry_run", nil, start)
		return &Result{InAmount: amount, OutAmount: outAmount, DryRun: true, Latency: time.Since(start)}, nil
	}

	signedTx, err := e.wallet.SignBase64Transaction(swapResp.SwapTransaction)
	if err != nil {
		e.record(inputMint, outputMint, amount, outAmount, "", "failed", err, start)
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	signature, err := e.rpcClient.SendTransaction(ctx, signedTx)
	if err != nil {
		e.logger.LogSwapError(inputMint, outputMint, amount, err)
		e.record(inputMint, outputMint, amount, outAmount, "", "failed", err, start)
		return nil, fmt.Errorf("send failed: %w", err)
	}

	if err := e.waitForConfirmation(ctx, signature); err != nil {
		e.logger.LogSwapError(inputMint, outputMint, amount, err)
		e.record(inputMint, outputMint, amount, outAmount, signature, "failed", err, start)
		return nil, fmt.Errorf("transaction %s sent but confirmation failed: %w", signature, err)
	}

	e.logger.LogSwapSuccess(inputMint, outputMint, amount, outAmount, signature)
	e.record(inputMint, outputMint, amount, outAmount, signature, "success", nil, start)

	return &Result{
		Signature: signature,
		InAmount:  amount,
		OutAmount: outAmount,
		Latency:   time.Since(start),
	}, nil
}

// waitForConfirmation polls signature status until confirmed, timed out, or
// failed on chain. A business failure means the transaction landed and was
// rejected; waiting longer cannot help.
func (e *Executor) waitForConfirmation(ctx context.Context, signature string) error {
	confirmCtx, cancel := context.WithTimeout(ctx, e.config.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(e.config.ConfirmPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-confirmCtx.Done():
			return confirmCtx.Err()
		case <-ticker.C:
			err := e.rpcClient.ConfirmTransaction(confirmCtx, signature)
			if err == nil {
				return nil
			}
			var rpcErr *rpc.Error
			if errors.As(err, &rpcErr) && rpcErr.Kind == rpc.KindBusiness {
				return err
			}
			e.logger.WithField("signature", signature).Debug("Waiting for confirmation...")
		}
	}
}

func (e *Executor) record(inputMint, outputMint string, inAmount, outAmount uint64,
	signature, status string, swapErr error, start time.Time) {
	if e.history == nil {
		return
	}
	rec := logger.SwapRecord{
		Timestamp:  time.Now(),
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		SlippageBP: e.config.SlippageBP,
		Signature:  signature,
		Status:     status,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if swapErr != nil {
		rec.ErrorMessage = swapErr.Error()
	}
	if err := e.history.Append(rec); err != nil {
		e.logger.WithError(err).Warn("Failed to persist swap record")
	}
}
