package config

import "github.com/mr-tron/base58"

// Solana network constants
const (
	SolanaMainnetRPC = "https://api.mainnet-beta.solana.com"
	SolanaDevnetRPC  = "https://api.devnet.solana.com"

	// WebSocket endpoints
	SolanaMainnetWS = "wss://api.mainnet-beta.solana.com"
	SolanaDevnetWS  = "wss://api.devnet.solana.com"

	// Jupiter aggregator
	JupiterBaseURL = "https://quote-api.jup.ag"

	// Solana constants
	LamportsPerSol = 1_000_000_000
)

// Well-known mints
const (
	// Native SOL mint (wrapped SOL)
	NativeSOLMint = "So11111111111111111111111111111111111111112"

	// USDC mint on mainnet
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Trading constants
const (
	// Default slippage in basis points (1% = 100 bp)
	DefaultSlippageBP = 50

	// Ed25519 secret key length after base58 decoding
	SecretKeyLength = 64
)

// MustDecodeBase58 decodes a base58 address and panics on error. Used for
// compile-time constant addresses that should never fail.
func MustDecodeBase58(addr string) []byte {
	decoded, err := base58.Decode(addr)
	if err != nil {
		panic("Invalid base58 address: " + addr + ", error: " + err.Error())
	}
	return decoded
}

// GetRPCEndpoint returns the public RPC endpoint for the network.
func GetRPCEndpoint(network string) string {
	switch network {
	case "devnet":
		return SolanaDevnetRPC
	default:
		return SolanaMainnetRPC
	}
}

// GetWSEndpoint returns the public WebSocket endpoint for the network.
func GetWSEndpoint(network string) string {
	switch network {
	case "devnet":
		return SolanaDevnetWS
	default:
		return SolanaMainnetWS
	}
}

// ConvertSOLToLamports converts SOL to lamports.
func ConvertSOLToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSol)
}

// ConvertLamportsToSOL converts lamports to SOL.
func ConvertLamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSol
}
