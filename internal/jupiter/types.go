package jupiter

import "encoding/json"

// QuoteRequest describes one quote lookup against the v6 quote endpoint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// QuoteResponse represents a Jupiter v6 quote. Amounts arrive as decimal
// strings. RoutePlan is kept opaque and echoed back verbatim in the swap
// request.
type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct,omitempty"`
	ContextSlot          uint64          `json:"contextSlot,omitempty"`
	RoutePlan            json.RawMessage `json:"routePlan,omitempty"`
}

// SwapRequest is the body posted to the v6 swap endpoint. The full quote is
// passed back unchanged.
type SwapRequest struct {
	QuoteResponse           QuoteResponse `json:"quoteResponse"`
	UserPublicKey           string        `json:"userPublicKey"`
	WrapAndUnwrapSol        bool          `json:"wrapAndUnwrapSol"`
	PriorityFeeLamports     uint64        `json:"priorityFeeLamports,omitempty"`
	DynamicComputeUnitLimit bool          `json:"dynamicComputeUnitLimit,omitempty"`
}

// SwapResponse carries the unsigned transaction built by the aggregator,
// base64 encoded.
type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}
