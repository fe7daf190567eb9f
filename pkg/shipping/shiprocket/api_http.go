package shiprocket

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

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Shiprocket external API root.
const DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"

// HTTPAPIClient is the production implementation of APIClient.
type HTTPAPIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // zero disables client-side throttling
	Burst             int
}

// NewHTTPAPIClient creates a new HTTP-based API client.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPAPIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Login exchanges credentials for a bearer token.
// POST /auth/login
func (c *HTTPAPIClient) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var result LoginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Serviceability lists courier offers for a route.
// GET /courier/serviceability/
func (c *HTTPAPIClient) Serviceability(ctx context.Context, token string, req *ServiceabilityRequest) (*ServiceabilityResponse, error) {
	q := url.Values{}
	q.Set("pickup_postcode", req.PickupPostcode)
	q.Set("delivery_postcode", req.DeliveryPostcode)
	q.Set("weight", strconv.FormatFloat(req.Weight, 'f', -1, 64))
	q.Set("cod", boolFlag(req.COD))
	if req.DeclaredValue > 0 {
		q.Set("declared_value", strconv.FormatFloat(req.DeclaredValue, 'f', 2, 64))
	}

	var result ServiceabilityResponse
	if err := c.call(ctx, http.MethodGet, "/courier/serviceability/?"+q.Encode(), token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateOrder creates an ad-hoc order.
// POST /orders/create/adhoc
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	if err := c.call(ctx, http.MethodPost, "/orders/create/adhoc", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AssignAWB assigns a tracking number to a shipment.
// POST /courier/assign/awb
func (c *HTTPAPIClient) AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	var result AssignAWBResponse
	if err := c.call(ctx, http.MethodPost, "/courier/assign/awb", token, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackAWB returns tracking activities.
// GET /courier/track/awb/{awb}
func (c *HTTPAPIClient) TrackAWB(ctx context.Context, token, awb string) (*TrackingResponse, error) {
	var result TrackingResponse
	if err := c.call(ctx, http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), token, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelShipments cancels shipments by AWB.
// POST /orders/cancel/shipment/awbs
func (c *HTTPAPIClient) CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error) {
	var result CancelResponse
	if err := c.call(ctx, http.MethodPost, "/orders/cancel/shipment/awbs", token, req, &result); err != nil {
		return nil, err
	}
	if result.StatusCode == 0 {
		result.StatusCode = http.StatusOK
	}
	return &result, nil
}

// call performs a request and decodes a 2xx body into out.
func (c *HTTPAPIClient) call(ctx context.Context, method, path, token string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Endpoint: endpointName(path), Err: err}
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, token string, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "courierbridge/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var parsed struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		apiErr.Message = parsed.Message
		apiErr.Errors = parsed.Errors
		return apiErr
	}

	apiErr.Message = http.StatusText(resp.StatusCode)
	if len(body) > 0 {
		apiErr.Message = string(body)
	}
	return apiErr
}

func endpointName(path string) string {
	for i, r := range path {
		if r == '?' {
			return path[:i]
		}
	}
	return path
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ APIClient = (*HTTPAPIClient)(nil)
