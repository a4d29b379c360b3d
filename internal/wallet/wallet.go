package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"rpc-router-go/internal/config"
	"rpc-router-go/internal/rpc"
)

// Wallet represents a Solana wallet
type Wallet struct {
	account   types.Account
	rpcClient *rpc.Client
	logger    *logrus.Logger
}

// Load builds the wallet from environment variables. cfg names the variables
// carrying key material; the values never pass through config files or flags.
// Startup fails when neither variable is set.
func Load(cfg config.WalletConfig, rpcClient *rpc.Client, logger *logrus.Logger) (*Wallet, error) {
	if privateKey := os.Getenv(cfg.PrivateKeyEnv); privateKey != "" {
		return fromPrivateKey(privateKey, rpcClient, logger)
	}
	if mnemonic := os.Getenv(cfg.MnemonicEnv); mnemonic != "" {
		return fromMnemonic(mnemonic, rpcClient, logger)
	}
	return nil, fmt.Errorf("no wallet credentials: set %s or %s in the environment",
		cfg.PrivateKeyEnv, cfg.MnemonicEnv)
}

func fromPrivateKey(privateKey string, rpcClient *rpc.Client, logger *logrus.Logger) (*Wallet, error) {
	decoded, err := base58.Decode(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(decoded) != config.SecretKeyLength {
		return nil, fmt.Errorf("invalid private key: expected %d bytes, got %d",
			config.SecretKeyLength, len(decoded))
	}

	account, err := types.AccountFromBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newWallet(account, rpcClient, logger), nil
}

func fromMnemonic(mnemonic string, rpcClient *rpc.Client, logger *logrus.Logger) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(mnemonic, "")
	key := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])

	account, err := types.AccountFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account from mnemonic: %w", err)
	}
	return newWallet(account, rpcClient, logger), nil
}

func newWallet(account types.Account, rpcClient *rpc.Client, logger *logrus.Logger) *Wallet {
	w := &Wallet{
		account:   account,
		rpcClient: rpcClient,
		logger:    logger,
	}
	logger.WithField("public_key", w.PublicKeyString()).Info("Wallet initialized")
	return w
}

// PublicKey returns the wallet's public key
func (w *Wallet) PublicKey() common.PublicKey {
	return w.account.PublicKey
}

// PublicKeyString returns the wallet's public key as base58 string
func (w *Wallet) PublicKeyString() string {
	return w.account.PublicKey.String()
}

// Account returns the wallet's account for signing transactions
func (w *Wallet) Account() types.Account {
	return w.account
}

// GetBalance returns the wallet's SOL balance in lamports
func (w *Wallet) GetBalance(ctx context.Context) (uint64, error) {
	balance, err := w.rpcClient.GetBalance(ctx, w.PublicKeyString())
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"balance_lamports": balance,
		"balance_sol":      config.ConvertLamportsToSOL(balance),
	}).Debug("Retrieved wallet balance")

	return balance, nil
}

// GetBalanceSOL returns the wallet's SOL balance as float64
func (w *Wallet) GetBalanceSOL(ctx context.Context) (float64, error) {
	balance, err := w.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return config.ConvertLamportsToSOL(balance), nil
}

// GetAssociatedTokenAddress returns the ATA address for given mint (no RPC call)
func (w *Wallet) GetAssociatedTokenAddress(mint common.PublicKey) (common.PublicKey, error) {
	ata, _, err := common.FindAssociatedTokenAddress(w.account.PublicKey, mint)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("failed to find ATA address: %w", err)
	}
	return ata, nil
}

// SignBase64Transaction signs a base64-encoded transaction built elsewhere
// (the aggregator returns these unsigned) and returns it re-encoded. The
// wallet must appear among the transaction's required signers.
func (w *Wallet) SignBase64Transaction(encodedTx string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(encodedTx)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	tx, err := types.TransactionDeserialize(txBytes)
	if err != nil {
		return "", fmt.Errorf("failed to deserialize transaction: %w", err)
	}

	messageBytes, err := tx.Message.Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}
	signature := ed25519.Sign(w.account.PrivateKey, messageBytes)

	signed := false
	numSigners := int(tx.Message.Header.NumRequireSignatures)
	for i, acct := range tx.Message.Accounts {
		if i >= numSigners {
			break
		}
		if acct == w.account.PublicKey {
			tx.Signatures[i] = signature
			signed = true
		}
	}
	if !signed {
		return "", fmt.Errorf("wallet %s is not a required signer", w.PublicKeyString())
	}

	signedBytes, err := tx.Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}

	w.logger.Debug("Transaction signed")
	return base64.StdEncoding.EncodeToString(signedBytes), nil
}
