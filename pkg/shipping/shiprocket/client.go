// Package shiprocket provides integration with the Shiprocket aggregator API.
package shiprocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Code is the factory code Shiprocket providers register under.
const Code = "shiprocket"

const (
	currencyINR        = "INR"
	trackingURLPrefix  = "https://shiprocket.co/tracking/"
	defaultServiceWt   = 0.5 // kg used for bare serviceability checks
	defaultPickupLabel = "Primary"
)

// Config holds Shiprocket transport configuration shared by every account.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UseMock           bool // When true, uses mock API client
}

// Credentials is the credential blob of a Shiprocket provider config record.
type Credentials struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	PickupLocation   string `json:"pickupLocation"`
	PickupPostalCode string `json:"pickupPostalCode"`
}

// Client is the Shiprocket provider.
// It implements shipping.Provider and delegates API calls to the
// underlying APIClient (mock or HTTP).
type Client struct {
	id        string
	name      string
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	initMu      sync.Mutex
	credentials Credentials
	tokens      *tokenSource
}

// New creates a new Shiprocket provider.
// If cfg.UseMock is true, it uses a mock API client.
func New(id string, cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient
	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}
	return NewWithAPIClient(id, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Shiprocket provider with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(id string, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Client{
		id:        id,
		name:      "Shiprocket",
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
		now:       time.Now,
	}
}

// NewFactory returns a shipping.Factory building Shiprocket providers from config records.
func NewFactory(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) shipping.Factory {
	return func(pc shipping.ProviderConfig) (shipping.Provider, error) {
		c := New(pc.ID, cfg, logger, tracer)
		if pc.DisplayName != "" {
			c.name = pc.DisplayName
		}
		return c, nil
	}
}

// WithClock overrides the time source used for token expiry.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// ID returns the provider id.
func (c *Client) ID() string {
	return c.id
}

// Name returns the display name.
func (c *Client) Name() string {
	return c.name
}

// Initialize decodes the credentials and logs in. Repeated and concurrent calls
// with unchanged credentials reuse the existing session.
func (c *Client) Initialize(ctx context.Context, pc shipping.ProviderConfig) error {
	var creds Credentials
	if err := pc.DecodeCredentials(&creds); err != nil {
		return err
	}
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("%w: provider %s requires email and password", shipping.ErrConfiguration, pc.ID)
	}
	if creds.PickupLocation == "" {
		creds.PickupLocation = defaultPickupLabel
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	if pc.DisplayName != "" {
		c.name = pc.DisplayName
	}
	if c.tokens == nil || c.credentials != creds {
		c.credentials = creds
		c.tokens = newTokenSource(c.apiClient, LoginRequest{Email: creds.Email, Password: creds.Password}, c.now)
	}

	c.logger.Info("Initializing Shiprocket provider",
		zap.String("provider", c.id),
		zap.String("pickup_location", creds.PickupLocation),
	)

	if _, err := c.tokens.Token(ctx); err != nil {
		c.logger.Error("Shiprocket login failed", zap.String("provider", c.id), zap.Error(err))
		return c.translate(err, shipping.ErrAuthentication)
	}
	return nil
}

// Logins returns the number of logins performed, for diagnostics.
func (c *Client) Logins() int {
	c.initMu.Lock()
	tokens := c.tokens
	c.initMu.Unlock()
	if tokens == nil {
		return 0
	}
	return tokens.Logins()
}

func (c *Client) session() (*tokenSource, Credentials, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.tokens == nil {
		return nil, Credentials{}, shipping.NewProviderError(c.id, shipping.ErrConfiguration, "NOT_INITIALIZED", "provider not initialized")
	}
	return c.tokens, c.credentials, nil
}

// authorized runs fn with a valid token. A 401 invalidates the token and the
// call is retried once with a fresh login.
func (c *Client) authorized(ctx context.Context, fn func(token string) error) error {
	tokens, _, err := c.session()
	if err != nil {
		return err
	}

	token, err := tokens.Token(ctx)
	if err != nil {
		return c.translate(err, shipping.ErrAuthentication)
	}

	err = fn(token)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("Shiprocket token rejected, logging in again", zap.String("provider", c.id))
		tokens.Invalidate(token)
		if token, err = tokens.Token(ctx); err != nil {
			return c.translate(err, shipping.ErrAuthentication)
		}
		err = fn(token)
	}
	return err
}

// traced runs fn inside a child span when a tracer is configured.
func (c *Client) traced(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if c.tracer == nil {
		return fn(ctx)
	}
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("provider.id", c.id)))
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// CheckServiceability reports whether any unblocked courier serves the postal code.
// Errors are logged and reported as not serviceable.
func (c *Client) CheckServiceability(ctx context.Context, postalCode string) bool {
	_, creds, err := c.session()
	if err != nil {
		return false
	}
	pickup := creds.PickupPostalCode
	if pickup == "" {
		pickup = postalCode
	}

	var resp *ServiceabilityResponse
	err = c.authorized(ctx, func(token string) error {
		r, err := c.apiClient.Serviceability(ctx, token, &ServiceabilityRequest{
			PickupPostcode:   pickup,
			DeliveryPostcode: postalCode,
			Weight:           defaultServiceWt,
		})
		resp = r
		return err
	})
	if err != nil {
		if !isNotServiceable(err) {
			c.logger.Warn("Shiprocket serviceability check failed",
				zap.String("provider", c.id),
				zap.String("postal_code", postalCode),
				zap.Error(err),
			)
		}
		return false
	}

	for _, cc := range resp.Data.AvailableCourierCompanies {
		if cc.Blocked == 0 {
			return true
		}
	}
	return false
}

// GetRates returns the courier offers for a route. An unserved route yields no rates.
func (c *Client) GetRates(ctx context.Context, req *shipping.RateRequest) ([]shipping.Rate, error) {
	c.logger.Info("Getting Shiprocket rates",
		zap.String("provider", c.id),
		zap.String("from_postal_code", req.FromPostalCode),
		zap.String("to_postal_code", req.ToPostalCode),
		zap.Float64("weight", req.Weight),
		zap.Bool("cod", req.CashOnDelivery),
	)

	var resp *ServiceabilityResponse
	err := c.authorized(ctx, func(token string) error {
		r, err := c.apiClient.Serviceability(ctx, token, &ServiceabilityRequest{
			PickupPostcode:   req.FromPostalCode,
			DeliveryPostcode: req.ToPostalCode,
			Weight:           req.RoundedWeight(),
			COD:              req.CashOnDelivery,
			DeclaredValue:    req.DeclaredValue,
		})
		resp = r
		return err
	})
	if err != nil {
		if isNotServiceable(err) {
			return []shipping.Rate{}, nil
		}
		c.logger.Error("Shiprocket API error", zap.String("provider", c.id), zap.Error(err))
		return nil, c.translate(err, shipping.ErrRateUnavailable)
	}

	return c.ratesFromResponse(resp), nil
}

// CreateShipment books a shipment in two steps: create the order, then assign
// an AWB with the selected courier, or Shiprocket's recommendation when none
// of this provider's couriers was selected.
func (c *Client) CreateShipment(ctx context.Context, req *shipping.ShipmentRequest) (*shipping.Shipment, error) {
	_, creds, err := c.session()
	if err != nil {
		return nil, err
	}

	c.logger.Info("Creating Shiprocket order",
		zap.String("provider", c.id),
		zap.String("order_id", req.OrderID),
		zap.String("to_postal_code", req.Destination.PostalCode),
	)

	orderReq := c.orderRequest(req, creds.PickupLocation)

	var order *CreateOrderResponse
	err = c.traced(ctx, "shiprocket.create_order", func(ctx context.Context) error {
		return c.authorized(ctx, func(token string) error {
			r, err := c.apiClient.CreateOrder(ctx, token, orderReq)
			order = r
			return err
		})
	})
	if err != nil {
		c.logger.Error("Shiprocket order creation failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, c.translate(err, shipping.ErrRateUnavailable)
	}
	if order.ShipmentID == 0 {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "NO_SHIPMENT_ID", "order created without a shipment id")
	}

	courierID := c.selectedCourier(req.SelectedRate)
	var awb *AssignAWBResponse
	err = c.traced(ctx, "shiprocket.assign_awb", func(ctx context.Context) error {
		return c.authorized(ctx, func(token string) error {
			r, err := c.apiClient.AssignAWB(ctx, token, &AssignAWBRequest{ShipmentID: order.ShipmentID, CourierID: courierID})
			awb = r
			return err
		})
	})
	if err != nil {
		c.logger.Error("Shiprocket AWB assignment failed",
			zap.String("order_id", req.OrderID),
			zap.Int("shipment_id", order.ShipmentID),
			zap.Error(err),
		)
		return nil, c.translate(err, shipping.ErrNotServiceable)
	}

	data := awb.Response.Data
	if awb.AWBAssignStatus != 1 || data.AWBCode == "" {
		msg := awb.Message
		if msg == "" {
			msg = "courier did not assign an AWB"
		}
		return nil, shipping.NewProviderError(c.id, shipping.ErrNotServiceable, "AWB_NOT_ASSIGNED", msg)
	}

	courier := data.CourierName
	if courier == "" && req.SelectedRate != nil {
		courier = req.SelectedRate.CourierName
	}

	shipment := &shipping.Shipment{
		TrackingNumber:  data.AWBCode,
		ProviderID:      c.id,
		ProviderOrderID: strconv.Itoa(order.OrderID),
		CourierName:     courier,
		TrackingURL:     trackingURLPrefix + data.AWBCode,
		Metadata: map[string]string{
			"shipmentId":       strconv.Itoa(order.ShipmentID),
			"courierCompanyId": strconv.Itoa(data.CourierCompanyID),
			"channelOrderId":   orderReq.OrderID,
		},
	}
	if req.SelectedRate != nil && req.SelectedRate.EstimatedDeliveryDays > 0 {
		eta := c.now().AddDate(0, 0, req.SelectedRate.EstimatedDeliveryDays)
		shipment.EstimatedDelivery = &eta
	}

	c.logger.Info("Shiprocket shipment created",
		zap.String("order_id", req.OrderID),
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.String("courier", shipment.CourierName),
	)
	return shipment, nil
}

// TrackShipment returns the normalized tracking history of an AWB.
func (c *Client) TrackShipment(ctx context.Context, trackingNumber string) (*shipping.TrackingInfo, error) {
	c.logger.Info("Tracking Shiprocket shipment",
		zap.String("provider", c.id),
		zap.String("tracking_number", trackingNumber),
	)

	var resp *TrackingResponse
	err := c.authorized(ctx, func(token string) error {
		r, err := c.apiClient.TrackAWB(ctx, token, trackingNumber)
		resp = r
		return err
	})
	if err != nil {
		c.logger.Error("Shiprocket API error", zap.String("tracking_number", trackingNumber), zap.Error(err))
		return nil, c.translate(err, shipping.ErrNotServiceable)
	}

	return c.trackingFromResponse(trackingNumber, resp), nil
}

// CancelShipment cancels an AWB.
func (c *Client) CancelShipment(ctx context.Context, trackingNumber string) (bool, error) {
	c.logger.Info("Cancelling Shiprocket shipment",
		zap.String("provider", c.id),
		zap.String("tracking_number", trackingNumber),
	)

	var resp *CancelResponse
	err := c.authorized(ctx, func(token string) error {
		r, err := c.apiClient.CancelShipments(ctx, token, &CancelRequest{AWBs: []string{trackingNumber}})
		resp = r
		return err
	})
	if err != nil {
		c.logger.Error("Shiprocket API error", zap.String("tracking_number", trackingNumber), zap.Error(err))
		return false, c.translate(err, shipping.ErrNotServiceable)
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// HandleWebhook normalizes a Shiprocket status callback.
func (c *Client) HandleWebhook(ctx context.Context, payload []byte) (*shipping.WebhookEvent, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "BAD_WEBHOOK", "invalid webhook payload").WithCause(err)
	}
	if p.AWB == "" {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "BAD_WEBHOOK", "webhook has no awb")
	}

	status, ok := mapStatus(int(p.CurrentStatusID), p.CurrentStatus)
	if !ok {
		status, ok = mapStatus(int(p.ShipmentStatusID), p.ShipmentStatus)
	}
	if !ok {
		return nil, shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "UNKNOWN_STATUS",
			fmt.Sprintf("unrecognized status %q", p.CurrentStatus))
	}

	ts, ok := parseTimestamp(p.CurrentTimestamp)
	if !ok {
		ts = c.now()
	}

	var location, description string
	if n := len(p.Scans); n > 0 {
		latest := p.Scans[n-1]
		location, description = latest.Location, latest.Activity
	}

	c.logger.Info("Shiprocket webhook received",
		zap.String("provider", c.id),
		zap.String("tracking_number", p.AWB),
		zap.String("status", p.CurrentStatus),
	)

	return &shipping.WebhookEvent{
		ProviderID:     c.id,
		OrderID:        p.OrderID,
		TrackingNumber: p.AWB,
		Status: shipping.TrackingStatus{
			Status:      status,
			RawStatus:   p.CurrentStatus,
			Location:    location,
			Timestamp:   ts,
			Description: description,
		},
		RawPayload: json.RawMessage(payload),
	}, nil
}

// ============================================================================
// Conversion helpers: shipping models -> API models
// ============================================================================

func (c *Client) orderRequest(req *shipping.ShipmentRequest, pickupLocation string) *CreateOrderRequest {
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	dest := req.Destination
	first, last := splitName(dest.Name)

	items := make([]OrderItem, 0, len(req.Package.Items))
	var subTotal float64
	for _, it := range req.Package.Items {
		items = append(items, OrderItem{Name: it.Name, SKU: it.SKU, Units: it.Quantity, SellingPrice: it.UnitPrice})
		subTotal += it.UnitPrice * float64(it.Quantity)
	}
	if len(items) == 0 {
		items = append(items, OrderItem{Name: "Order " + orderID, SKU: orderID, Units: 1, SellingPrice: req.Package.DeclaredValue})
		subTotal = req.Package.DeclaredValue
	}

	payment := "Prepaid"
	if req.CashOnDelivery {
		payment = "COD"
	}

	out := &CreateOrderRequest{
		OrderID:             orderID,
		OrderDate:           c.now().In(ist).Format("2006-01-02 15:04"),
		PickupLocation:      pickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      dest.Line1,
		BillingAddress2:     dest.Line2,
		BillingCity:         dest.City,
		BillingPincode:      dest.PostalCode,
		BillingState:        dest.State,
		BillingCountry:      "India",
		BillingEmail:        dest.Email,
		BillingPhone:        dest.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       payment,
		SubTotal:            subTotal,
		Weight:              shipping.RoundWeight(req.Package.Weight),
	}
	if d := req.Package.Dimensions; d != nil {
		out.Length, out.Breadth, out.Height = d.Length, d.Width, d.Height
	}
	if req.Schedule != nil {
		out.Comment = req.Schedule.Notes
	}
	return out
}

// selectedCourier returns the courier id of a rate quoted by this provider, or 0.
func (c *Client) selectedCourier(rate *shipping.Rate) int {
	if rate == nil || rate.ProviderID != c.id {
		return 0
	}
	id, err := strconv.Atoi(rate.CourierCode)
	if err != nil {
		return 0
	}
	return id
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, " "); i > 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// ============================================================================
// Conversion helpers: API models -> shipping models
// ============================================================================

func (c *Client) ratesFromResponse(resp *ServiceabilityResponse) []shipping.Rate {
	recommended := resp.Data.RecommendedCourierCompanyID
	rates := make([]shipping.Rate, 0, len(resp.Data.AvailableCourierCompanies))
	for _, cc := range resp.Data.AvailableCourierCompanies {
		cost := cc.Rate
		if cost == 0 {
			cost = cc.FreightCharge + cc.CODCharges
		}
		mode := shipping.DeliveryAir
		if cc.IsSurface {
			mode = shipping.DeliverySurface
		}
		meta := map[string]string{"courierCompanyId": strconv.Itoa(cc.CourierCompanyID)}
		if cc.ETD != "" {
			meta["etd"] = cc.ETD
		}
		rates = append(rates, shipping.Rate{
			ProviderID:            c.id,
			ProviderName:          c.name,
			CourierName:           cc.CourierName,
			CourierCode:           strconv.Itoa(cc.CourierCompanyID),
			Cost:                  shipping.RoundMoney(cost),
			Currency:              currencyINR,
			EstimatedDeliveryDays: int(cc.EstimatedDeliveryDays),
			DeliveryMode:          mode,
			Available:             cc.Blocked == 0,
			Features: map[string]bool{
				"cod":         cc.COD == 1,
				"surface":     cc.IsSurface,
				"recommended": cc.CourierCompanyID == recommended,
			},
			Metadata: meta,
		})
	}
	return rates
}

func (c *Client) trackingFromResponse(trackingNumber string, resp *TrackingResponse) *shipping.TrackingInfo {
	data := resp.TrackingData
	info := &shipping.TrackingInfo{
		TrackingNumber: trackingNumber,
		ProviderID:     c.id,
		TrackingURL:    data.TrackURL,
	}
	if info.TrackingURL == "" {
		info.TrackingURL = trackingURLPrefix + trackingNumber
	}
	if len(data.ShipmentTrack) > 0 {
		info.OrderID = data.ShipmentTrack[0].OrderID
		if edd, ok := parseTimestamp(data.ShipmentTrack[0].EDD); ok {
			info.EstimatedDelivery = &edd
		}
	}

	events := make([]shipping.TrackingStatus, 0, len(data.ShipmentTrackActivities))
	for _, a := range data.ShipmentTrackActivities {
		status, ok := mapStatus(int(a.SRStatus), a.SRStatusLabel)
		if !ok {
			continue
		}
		ts, _ := parseTimestamp(a.Date)
		events = append(events, shipping.TrackingStatus{
			Status:      status,
			RawStatus:   a.SRStatusLabel,
			Location:    a.Location,
			Timestamp:   ts,
			Description: a.Activity,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if len(events) == 0 {
		label := ""
		if len(data.ShipmentTrack) > 0 {
			label = data.ShipmentTrack[0].CurrentStatus
		}
		if status, ok := mapStatus(data.ShipmentStatus, label); ok {
			events = append(events, shipping.TrackingStatus{Status: status, RawStatus: label, Timestamp: c.now()})
		}
	}

	info.Merge(events)
	return info
}

// ============================================================================
// Error translation
// ============================================================================

// translate maps transport and API failures onto the shipping error taxonomy.
// fallback is the kind used for request-level 4xx responses.
func (c *Client) translate(err error, fallback error) error {
	if err == nil {
		return nil
	}
	var pe *shipping.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprintf("HTTP_%d", apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return shipping.NewProviderError(c.id, shipping.ErrAuthentication, code, apiErr.Message).
				WithStatusCode(apiErr.StatusCode).WithCause(err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return shipping.NewProviderError(c.id, shipping.ErrProviderUnavailable, code, apiErr.Message).
				WithStatusCode(apiErr.StatusCode).WithCause(err)
		default:
			return shipping.NewProviderError(c.id, fallback, code, apiErr.Message).
				WithStatusCode(apiErr.StatusCode).WithCause(err)
		}
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return shipping.NewProviderError(c.id, shipping.ErrMalformedResponse, "DECODE_ERROR", decodeErr.Error()).WithCause(err)
	}

	// transport failures, timeouts and cancellations
	return shipping.NewProviderError(c.id, shipping.ErrProviderUnavailable, "TRANSPORT", "shiprocket request failed").WithCause(err)
}

// isNotServiceable reports Shiprocket's "no courier serves this route" answer.
func isNotServiceable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity)
}

var _ shipping.Provider = (*Client)(nil)
