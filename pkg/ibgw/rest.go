package ibgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"histcache/internal/market"
)

// HistoricalClient is the upstream capability the fetch orchestrator
// depends on. The IB wire protocol lives entirely behind the gateway
// wrapper service; this client only speaks its HTTP API.
type HistoricalClient interface {
	FetchHistorical(ctx context.Context, inst market.Instrument, tf market.Timeframe, start, end time.Time) ([]market.Bar, error)
}

// InstrumentResolver resolves a symbol to a full contract. Resolution
// results feed the instrument metadata table and the symbols cache class.
type InstrumentResolver interface {
	ResolveInstrument(ctx context.Context, inst market.Instrument) (market.Instrument, string, error)
}

// RESTClient talks to the IB gateway wrapper service.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchHistorical requests bars for [start, end] from the gateway.
func (c *RESTClient) FetchHistorical(ctx context.Context, inst market.Instrument, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	endpoint := fmt.Sprintf("%s/historical/%s?%s",
		c.baseURL,
		url.PathEscape(inst.Symbol),
		url.Values{
			"sec_type":  {string(inst.SecType)},
			"exchange":  {inst.Exchange},
			"currency":  {inst.Currency},
			"timeframe": {string(tf)},
			"start":     {fmt.Sprintf("%d", start.Unix())},
			"end":       {fmt.Sprintf("%d", end.Unix())},
		}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var result historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Kind: KindConnectionLost, Message: "decode response", Err: err}
	}

	bars := make([]market.Bar, 0, len(result.Bars))
	for _, raw := range result.Bars {
		bars = append(bars, raw.ToBar())
	}
	return bars, nil
}

// ResolveInstrument asks the gateway to resolve the contract; the returned
// instrument carries the gateway's canonical exchange/currency values, plus
// a human-readable description.
func (c *RESTClient) ResolveInstrument(ctx context.Context, inst market.Instrument) (market.Instrument, string, error) {
	endpoint := fmt.Sprintf("%s/contract/%s?%s",
		c.baseURL,
		url.PathEscape(inst.Symbol),
		url.Values{
			"sec_type": {string(inst.SecType)},
			"exchange": {inst.Exchange},
			"currency": {inst.Currency},
		}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.Instrument{}, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return market.Instrument{}, "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return market.Instrument{}, "", classifyStatus(resp)
	}

	var result contractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return market.Instrument{}, "", &Error{Kind: KindConnectionLost, Message: "decode response", Err: err}
	}

	resolved := market.Instrument{
		Symbol:   result.Symbol,
		SecType:  market.SecType(result.SecType),
		Exchange: result.Exchange,
		Currency: result.Currency,
		Expiry:   result.Expiry,
		Strike:   result.Strike,
		Right:    result.Right,
	}
	return resolved, result.Description, nil
}

func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload errorResponse
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = string(body)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: msg}
	case http.StatusForbidden, http.StatusPaymentRequired:
		return &Error{Kind: KindNoSubscription, Message: msg}
	case http.StatusNotFound, http.StatusBadRequest:
		return &Error{Kind: KindInvalidInstrument, Message: msg}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: msg}
	default:
		return &Error{Kind: KindConnectionLost, Message: fmt.Sprintf("gateway status %d: %s", resp.StatusCode, msg)}
	}
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindConnectionLost, Message: "gateway unreachable", Err: err}
}
