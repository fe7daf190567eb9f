package shiprocket

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing and local runs.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnLogin          func(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	OnServiceability func(ctx context.Context, token string, req *ServiceabilityRequest) (*ServiceabilityResponse, error)
	OnCreateOrder    func(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error)
	OnAssignAWB      func(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error)
	OnTrackAWB       func(ctx context.Context, token, awb string) (*TrackingResponse, error)
	OnCancel         func(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error)

	loginCalls atomic.Int32
	nextID     atomic.Int32
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	m := &MockAPIClient{}
	m.nextID.Store(100000)
	return m
}

// LoginCalls returns how many times Login was invoked.
func (m *MockAPIClient) LoginCalls() int {
	return int(m.loginCalls.Load())
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 503, Message: "Simulated API error"}
	}
	return nil
}

// Login returns a mock token.
func (m *MockAPIClient) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	m.loginCalls.Add(1)
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnLogin != nil {
		return m.OnLogin(ctx, req)
	}
	return &LoginResponse{
		ID:    1,
		Email: req.Email,
		Token: "mock-" + uuid.New().String(),
	}, nil
}

// Serviceability returns mock courier offers.
func (m *MockAPIClient) Serviceability(ctx context.Context, token string, req *ServiceabilityRequest) (*ServiceabilityResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnServiceability != nil {
		return m.OnServiceability(ctx, token, req)
	}

	w := req.Weight
	if w < 0.5 {
		w = 0.5
	}
	codCharge := 0.0
	if req.COD {
		codCharge = 35
	}
	return &ServiceabilityResponse{
		Status: 200,
		Data: ServiceabilityData{
			RecommendedCourierCompanyID: 12,
			AvailableCourierCompanies: []CourierCompany{
				{CourierCompanyID: 12, CourierName: "Delhivery Surface", Rate: 55 + 40*w + codCharge, EstimatedDeliveryDays: 5, IsSurface: true, COD: 1, Rating: 4.2},
				{CourierCompanyID: 33, CourierName: "Xpressbees", Rate: 70 + 50*w + codCharge, EstimatedDeliveryDays: 3, IsSurface: true, COD: 1, Rating: 4.0},
				{CourierCompanyID: 10, CourierName: "Bluedart Air", Rate: 95 + 45*w + codCharge, EstimatedDeliveryDays: 2, COD: 1, Rating: 4.6},
				{CourierCompanyID: 44, CourierName: "Ekart Logistics", Rate: 60 + 38*w, EstimatedDeliveryDays: 4, IsSurface: true, Blocked: 1},
			},
		},
	}, nil
}

// CreateOrder returns a mock order.
func (m *MockAPIClient) CreateOrder(ctx context.Context, token string, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, token, req)
	}
	id := int(m.nextID.Add(1))
	return &CreateOrderResponse{
		OrderID:    id,
		ShipmentID: id + 500000,
		Status:     "NEW",
		StatusCode: 1,
	}, nil
}

// AssignAWB returns a mock tracking number.
func (m *MockAPIClient) AssignAWB(ctx context.Context, token string, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnAssignAWB != nil {
		return m.OnAssignAWB(ctx, token, req)
	}
	courierID := req.CourierID
	if courierID == 0 {
		courierID = 12
	}
	resp := &AssignAWBResponse{AWBAssignStatus: 1}
	resp.Response.Data = AWBData{
		AWBCode:          fmt.Sprintf("SR%010d", req.ShipmentID),
		CourierCompanyID: courierID,
		CourierName:      mockCourierName(courierID),
		ShipmentID:       req.ShipmentID,
	}
	return resp, nil
}

// TrackAWB returns mock tracking activities, newest first.
func (m *MockAPIClient) TrackAWB(ctx context.Context, token, awb string) (*TrackingResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnTrackAWB != nil {
		return m.OnTrackAWB(ctx, token, awb)
	}
	now := time.Now()
	return &TrackingResponse{
		TrackingData: TrackingData{
			TrackStatus:    1,
			ShipmentStatus: 18,
			ShipmentTrack: []ShipmentTrack{
				{AWBCode: awb, CourierName: "Delhivery Surface", CurrentStatus: "IN TRANSIT"},
			},
			ShipmentTrackActivities: []Activity{
				{Date: now.Format(activityLayout), Activity: "Shipment in transit", Location: "Pune_Hub", SRStatus: 18, SRStatusLabel: "IN TRANSIT"},
				{Date: now.Add(-20 * time.Hour).Format(activityLayout), Activity: "Shipment picked up", Location: "Mumbai", SRStatus: 42, SRStatusLabel: "PICKED UP"},
			},
			TrackURL: "https://shiprocket.co/tracking/" + awb,
		},
	}, nil
}

// CancelShipments acknowledges the cancellation.
func (m *MockAPIClient) CancelShipments(ctx context.Context, token string, req *CancelRequest) (*CancelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCancel != nil {
		return m.OnCancel(ctx, token, req)
	}
	return &CancelResponse{StatusCode: 200, Message: "Shipment cancelled successfully"}, nil
}

func mockCourierName(id int) string {
	switch id {
	case 10:
		return "Bluedart Air"
	case 33:
		return "Xpressbees"
	default:
		return "Delhivery Surface"
	}
}

var _ APIClient = (*MockAPIClient)(nil)
