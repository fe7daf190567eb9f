package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// APIClient defines the Shiprocket API operations used by the adapter.
// Every call except Login takes the bearer token obtained from Login, so token
// lifecycle stays in the adapter.
type APIClient interface {
	// Login exchanges account credentials for a bearer token
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)

	// Serviceability lists the courier offers for a route
	Serviceability(ctx context.Context, token string, req *ServiceabilityRequest) (*ServiceabilityResponse, error)

	// CreateOrder creates an ad-hoc order
	CreateOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error)

	// AssignAWB assigns a tracking number to an order's shipment
	AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error)

	// TrackAWB returns the tracking activities of an AWB
	TrackAWB(ctx context.Context, token, awb string) (*TrackingResponse, error)

	// CancelShipments cancels shipments by AWB
	CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error)
}

// ============================================================================
// API Request/Response Types (Shiprocket external API v1)
// ============================================================================

// LoginRequest is the body of POST /v1/external/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token, valid for ten days.
type LoginResponse struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CompanyID int    `json:"company_id"`
	Token     string `json:"token"`
}

// ServiceabilityRequest is the query of GET /v1/external/courier/serviceability/.
type ServiceabilityRequest struct {
	PickupPostcode   string
	DeliveryPostcode string
	Weight           float64 // kg
	COD              bool
	DeclaredValue    float64
}

// ServiceabilityResponse lists the couriers serving a route.
type ServiceabilityResponse struct {
	Status int                `json:"status"`
	Data   ServiceabilityData `json:"data"`
}

// ServiceabilityData is the data envelope of a serviceability response.
type ServiceabilityData struct {
	AvailableCourierCompanies    []CourierCompany `json:"available_courier_companies"`
	RecommendedCourierCompanyID  int              `json:"recommended_courier_company_id"`
	ShiprocketRecommendedCourier int              `json:"shiprocket_recommended_courier_id"`
}

// CourierCompany is one courier offer.
type CourierCompany struct {
	CourierCompanyID      int     `json:"courier_company_id"`
	CourierName           string  `json:"courier_name"`
	Rate                  float64 `json:"rate"`
	FreightCharge         float64 `json:"freight_charge"`
	CODCharges            float64 `json:"cod_charges"`
	EstimatedDeliveryDays FlexInt `json:"estimated_delivery_days"`
	ETD                   string  `json:"etd"`
	IsSurface             bool    `json:"is_surface"`
	Blocked               int     `json:"blocked"`
	COD                   int     `json:"cod"`
	Rating                float64 `json:"rating"`
	MinWeight             float64 `json:"min_weight"`
}

// OrderItem is one line of an ad-hoc order.
type OrderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CreateOrderRequest is the body of POST /v1/external/orders/create/adhoc.
type CreateOrderRequest struct {
	OrderID             string      `json:"order_id"`
	OrderDate           string      `json:"order_date"` // "2006-01-02 15:04"
	PickupLocation      string      `json:"pickup_location"`
	BillingCustomerName string      `json:"billing_customer_name"`
	BillingLastName     string      `json:"billing_last_name"`
	BillingAddress      string      `json:"billing_address"`
	BillingAddress2     string      `json:"billing_address_2,omitempty"`
	BillingCity         string      `json:"billing_city"`
	BillingPincode      string      `json:"billing_pincode"`
	BillingState        string      `json:"billing_state"`
	BillingCountry      string      `json:"billing_country"`
	BillingEmail        string      `json:"billing_email"`
	BillingPhone        string      `json:"billing_phone"`
	ShippingIsBilling   bool        `json:"shipping_is_billing"`
	OrderItems          []OrderItem `json:"order_items"`
	PaymentMethod       string      `json:"payment_method"` // "Prepaid" or "COD"
	SubTotal            float64     `json:"sub_total"`
	Length              float64     `json:"length"`
	Breadth             float64     `json:"breadth"`
	Height              float64     `json:"height"`
	Weight              float64     `json:"weight"`
	Comment             string      `json:"comment,omitempty"`
}

// CreateOrderResponse identifies the created order and its shipment.
type CreateOrderResponse struct {
	OrderID          int     `json:"order_id"`
	ShipmentID       int     `json:"shipment_id"`
	Status           string  `json:"status"`
	StatusCode       int     `json:"status_code"`
	AWBCode          string  `json:"awb_code"`
	CourierCompanyID FlexInt `json:"courier_company_id"`
	CourierName      string  `json:"courier_name"`
}

// AssignAWBRequest is the body of POST /v1/external/courier/assign/awb.
// A zero CourierID lets Shiprocket pick its recommended courier.
type AssignAWBRequest struct {
	ShipmentID int `json:"shipment_id"`
	CourierID  int `json:"courier_id,omitempty"`
}

// AssignAWBResponse carries the assigned tracking number.
type AssignAWBResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data AWBData `json:"data"`
	} `json:"response"`
	Message string `json:"message,omitempty"`
}

// AWBData is the assignment result.
type AWBData struct {
	AWBCode          string  `json:"awb_code"`
	CourierCompanyID int     `json:"courier_company_id"`
	CourierName      string  `json:"courier_name"`
	ShipmentID       int     `json:"shipment_id"`
	OrderID          int     `json:"order_id"`
	AppliedWeight    float64 `json:"applied_weight"`
}

// TrackingResponse is the body of GET /v1/external/courier/track/awb/{awb}.
type TrackingResponse struct {
	TrackingData TrackingData `json:"tracking_data"`
}

// TrackingData holds the status summary and activity scans.
type TrackingData struct {
	TrackStatus             int             `json:"track_status"`
	ShipmentStatus          int             `json:"shipment_status"`
	ShipmentTrack           []ShipmentTrack `json:"shipment_track"`
	ShipmentTrackActivities []Activity      `json:"shipment_track_activities"`
	TrackURL                string          `json:"track_url"`
	ETD                     string          `json:"etd"`
	Error                   string          `json:"error,omitempty"`
}

// ShipmentTrack is the summary of one shipment.
type ShipmentTrack struct {
	AWBCode       string `json:"awb_code"`
	CourierName   string `json:"courier_name"`
	CurrentStatus string `json:"current_status"`
	OrderID       string `json:"order_id"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DeliveredDate string `json:"delivered_date"`
	EDD           string `json:"edd"`
}

// Activity is one scan. Shiprocket returns them newest first.
type Activity struct {
	Date          string  `json:"date"`
	Status        string  `json:"status"`
	Activity      string  `json:"activity"`
	Location      string  `json:"location"`
	SRStatus      FlexInt `json:"sr-status"`
	SRStatusLabel string  `json:"sr-status-label"`
}

// CancelRequest is the body of POST /v1/external/orders/cancel/shipment/awbs.
type CancelRequest struct {
	AWBs []string `json:"awbs"`
}

// CancelResponse is the cancellation acknowledgement.
type CancelResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// WebhookPayload is the body Shiprocket posts on status changes.
type WebhookPayload struct {
	AWB              string  `json:"awb"`
	CourierName      string  `json:"courier_name"`
	CurrentStatus    string  `json:"current_status"`
	CurrentStatusID  FlexInt `json:"current_status_id"`
	ShipmentStatus   string  `json:"shipment_status"`
	ShipmentStatusID FlexInt `json:"shipment_status_id"`
	CurrentTimestamp string  `json:"current_timestamp"`
	OrderID          string  `json:"order_id"`
	SROrderID        FlexInt `json:"sr_order_id"`
	ETD              string  `json:"etd"`
	Scans            []Scan  `json:"scans"`
}

// Scan is one webhook scan entry.
type Scan struct {
	Date          string  `json:"date"`
	Status        string  `json:"status"`
	Activity      string  `json:"activity"`
	Location      string  `json:"location"`
	SRStatus      FlexInt `json:"sr-status"`
	SRStatusLabel string  `json:"sr-status-label"`
}

// APIError represents an error response from Shiprocket.
type APIError struct {
	StatusCode int                 `json:"status_code"`
	Message    string              `json:"message"`
	Errors     map[string][]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket %d: %s", e.StatusCode, e.Message)
}

// DecodeError reports an unreadable response body.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FlexInt decodes integers Shiprocket sends either as numbers or as strings.
type FlexInt int

// UnmarshalJSON accepts 3, "3", "" and null.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("flexint: %w", err)
		}
		*f = FlexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}
