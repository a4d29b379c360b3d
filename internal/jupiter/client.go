package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"rpc-router-go/internal/rpc"
)

// Client talks to the Jupiter v6 aggregator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	quotes     *expirable.LRU[string, QuoteResponse]
}

// ClientConfig contains configuration for the aggregator client.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	QuoteTTL      time.Duration
	QuoteCacheMax int
}

// NewClient creates a new aggregator client. Quotes are cached briefly so
// that a price check followed by a swap does not hit the API twice.
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.QuoteTTL == 0 {
		config.QuoteTTL = 3 * time.Second
	}
	if config.QuoteCacheMax == 0 {
		config.QuoteCacheMax = 128
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
		quotes: expirable.NewLRU[string, QuoteResponse](config.QuoteCacheMax, nil, config.QuoteTTL),
	}
}

func quoteKey(req QuoteRequest) string {
	return req.InputMint + ":" + req.OutputMint + ":" +
		strconv.FormatUint(req.Amount, 10) + ":" + strconv.Itoa(req.SlippageBps)
}

// GetQuote fetches a swap quote, serving repeats from the cache.
func (c *Client) GetQuote(ctx context.Context, quoteReq QuoteRequest) (*QuoteResponse, error) {
	key := quoteKey(quoteReq)
	if cached, ok := c.quotes.Get(key); ok {
		c.logger.WithFields(logrus.Fields{
			"input_mint":  quoteReq.InputMint,
			"output_mint": quoteReq.OutputMint,
		}).Debug("Quote served from cache")
		return &cached, nil
	}

	query := url.Values{}
	query.Set("inputMint", quoteReq.InputMint)
	query.Set("outputMint", quoteReq.OutputMint)
	query.Set("amount", strconv.FormatUint(quoteReq.Amount, 10))
	query.Set("slippageBps", strconv.Itoa(quoteReq.SlippageBps))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v6/quote?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote request: %w", err)
	}

	body, err := c.do(req, "quote")
	if err != nil {
		return nil, err
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}

	c.quotes.Add(key, quote)
	c.logger.WithFields(logrus.Fields{
		"input_mint":  quote.InputMint,
		"output_mint": quote.OutputMint,
		"in_amount":   quote.InAmount,
		"out_amount":  quote.OutAmount,
	}).Debug("Quote received")

	return &quote, nil
}

// BuildSwap asks the aggregator to build an unsigned swap transaction for
// the given quote.
func (c *Client) BuildSwap(ctx context.Context, swapReq SwapRequest) (*SwapResponse, error) {
	requestBody, err := json.Marshal(swapReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v6/swap", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "swap")
	if err != nil {
		return nil, err
	}

	var swapResp SwapResponse
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return nil, rpc.NewError(rpc.KindBusiness, "jupiter", "swap",
			fmt.Errorf("aggregator returned no transaction"))
	}

	c.logger.WithField("last_valid_block_height", swapResp.LastValidBlockHeight).
		Debug("Swap transaction built")

	return &swapResp, nil
}

func (c *Client) do(req *http.Request, method string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, rpc.NewError(rpc.ClassifyTransport(err), "jupiter", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rpc.NewError(rpc.KindNetwork, "jupiter", method,
			fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, rpc.NewError(rpc.ClassifyStatus(resp.StatusCode), "jupiter", method,
			fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body)))
	}
	return body, nil
}

// QuoteCacheLen reports the number of live cached quotes.
func (c *Client) QuoteCacheLen() int {
	return c.quotes.Len()
}
