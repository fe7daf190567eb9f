package store_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/internal/store"
	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*store.GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return store.NewGormStore(gormDB), mock
}

var configColumns = []string{"id", "code", "display_name", "priority", "enabled", "delivery_modes", "credentials", "created_at", "updated_at"}

func TestGormStore_ListProviderConfigs(t *testing.T) {
	s, mock := setupMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows(configColumns).
		AddRow("sr-main", "shiprocket", "Shiprocket", 1, true, "surface,air", `{"email":"ops@example.in"}`, now, now).
		AddRow("local", "mock", "Local", 9, false, "", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "provider_configs" ORDER BY priority ASC, id ASC`)).
		WillReturnRows(rows)

	configs, err := s.ListProviderConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "sr-main", configs[0].ID)
	assert.Equal(t, "shiprocket", configs[0].Code)
	assert.True(t, configs[0].Enabled)
	assert.Equal(t, []shipping.DeliveryMode{shipping.DeliverySurface, shipping.DeliveryAir}, configs[0].DeliveryModes)
	assert.JSONEq(t, `{"email":"ops@example.in"}`, string(configs[0].Credentials))

	assert.False(t, configs[1].Enabled)
	assert.Empty(t, configs[1].DeliveryModes)
	assert.Nil(t, configs[1].Credentials)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetProviderConfig_NotFound(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "provider_configs" WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(configColumns))

	cfg, err := s.GetProviderConfig(context.Background(), "missing")
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, shipping.ErrProviderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetProviderConfig_QueryError(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "provider_configs"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetProviderConfig(context.Background(), "sr-main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NotErrorIs(t, err, shipping.ErrProviderNotFound)
}

func TestGormStore_SaveProviderConfig_Upserts(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "provider_configs"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.SaveProviderConfig(context.Background(), shipping.ProviderConfig{
		ID:            "sr-main",
		Code:          "shiprocket",
		Enabled:       true,
		DeliveryModes: []shipping.DeliveryMode{shipping.DeliverySurface},
		Credentials:   []byte(`{"email":"ops@example.in","password":"secret"}`),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_AppendEvent(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "shipping_events"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.AppendEvent(context.Background(), shipping.Event{
		ID:         "8f0c8e5e-1d4f-4f5e-9c43-1c1f7a3f0001",
		OrderID:    "ORD-1",
		ProviderID: "sr-main",
		Type:       shipping.EventShipmentCreate,
		Outcome:    shipping.OutcomeSuccess,
		Request:    []byte(`{"orderId":"ORD-1"}`),
		CreatedAt:  time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_AppendEvent_Error(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "shipping_events"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.AppendEvent(context.Background(), shipping.Event{ID: "e1", Type: shipping.EventWebhook})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
}

func TestGormStore_ListEvents(t *testing.T) {
	s, mock := setupMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "order_id", "provider_id", "type", "outcome", "request", "response", "error", "created_at"}).
		AddRow("e2", "ORD-1", "sr-main", "shipment_create", "failure", `{"orderId":"ORD-1"}`, "", "provider unavailable", now).
		AddRow("e1", "ORD-1", "sr-main", "rate_query", "success", "", `[]`, "", now.Add(-time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "shipping_events" WHERE order_id = $1 ORDER BY created_at DESC`)).
		WillReturnRows(rows)

	events, err := s.ListEvents(context.Background(), store.EventFilter{OrderID: "ORD-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, shipping.EventShipmentCreate, events[0].Type)
	assert.Equal(t, shipping.OutcomeFailure, events[0].Outcome)
	assert.Equal(t, "provider unavailable", events[0].Error)
	assert.Nil(t, events[0].Response)
	assert.JSONEq(t, `[]`, string(events[1].Response))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var trackingColumns = []string{"provider_id", "tracking_number", "order_id", "status", "info", "updated_at"}

func TestGormStore_GetTracking(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "tracking_records" WHERE provider_id = $1 AND tracking_number = $2`)).
		WithArgs("sr-main", "AWB1").
		WillReturnRows(sqlmock.NewRows(trackingColumns).AddRow(
			"sr-main", "AWB1", "ORD-1", "in_transit",
			`{"trackingNumber":"AWB1","providerId":"sr-main","orderId":"ORD-1",
			  "current":{"status":"in_transit","timestamp":"2026-03-02T08:00:00Z"},
			  "history":[{"status":"created","timestamp":"2026-03-01T08:00:00Z"},{"status":"in_transit","timestamp":"2026-03-02T08:00:00Z"}]}`,
			time.Now(),
		))

	info, err := s.GetTracking(context.Background(), "sr-main", "AWB1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, shipping.StatusInTransit, info.Current.Status)
	assert.Len(t, info.History, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetTracking_Missing(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "tracking_records"`)).
		WillReturnRows(sqlmock.NewRows(trackingColumns))

	info, err := s.GetTracking(context.Background(), "sr-main", "AWB404")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestGormStore_SaveTracking(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "tracking_records"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	info := &shipping.TrackingInfo{TrackingNumber: "AWB1", ProviderID: "sr-main"}
	info.Apply(shipping.TrackingStatus{Status: shipping.StatusCreated, Timestamp: time.Now()})

	assert.NoError(t, s.SaveTracking(context.Background(), info))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Rate cache records
// ============================================================================

var rateColumns = []string{"cache_key", "provider_id", "from_postal_code", "to_postal_code", "weight", "payment_mode", "rates", "expires_at", "created_at"}

func cacheKey() ratecache.Key {
	return ratecache.KeyFor(shipping.RateRequest{FromPostalCode: "400001", ToPostalCode: "110001", Weight: 1.5}, "sr-main")
}

func TestGormRateStore_GetHit(t *testing.T) {
	s, mock := setupMockDB(t)
	rates := s.RateStore()
	key := cacheKey()
	expires := time.Now().Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_cache_entries" WHERE cache_key = $1`)).
		WithArgs(key.String()).
		WillReturnRows(sqlmock.NewRows(rateColumns).AddRow(
			key.String(), "sr-main", "400001", "110001", 1.5, "prepaid",
			`[{"providerId":"sr-main","courierName":"Xpressbees","cost":120,"estimatedDeliveryDays":3,"deliveryMode":"surface","available":true}]`,
			expires, time.Now(),
		))

	entry, err := rates.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, key, entry.Key)
	require.Len(t, entry.Rates, 1)
	assert.Equal(t, "Xpressbees", entry.Rates[0].CourierName)
	assert.True(t, entry.Valid(time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRateStore_GetMiss(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_cache_entries"`)).
		WillReturnRows(sqlmock.NewRows(rateColumns))

	entry, err := s.RateStore().Get(context.Background(), cacheKey())
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGormRateStore_GetCorruptRow(t *testing.T) {
	s, mock := setupMockDB(t)
	key := cacheKey()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_cache_entries"`)).
		WillReturnRows(sqlmock.NewRows(rateColumns).AddRow(
			key.String(), "sr-main", "400001", "110001", 1.5, "prepaid", `not json`, time.Now(), time.Now(),
		))

	_, err := s.RateStore().Get(context.Background(), key)
	assert.Error(t, err)
}

func TestGormRateStore_SetUpserts(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "rate_cache_entries"`) + `.*ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.RateStore().Set(context.Background(), ratecache.Entry{
		Key:       cacheKey(),
		Rates:     []shipping.Rate{{ProviderID: "sr-main", CourierName: "Xpressbees", Cost: 120, Available: true}},
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRateStore_Deletes(t *testing.T) {
	s, mock := setupMockDB(t)
	rates := s.RateStore()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "rate_cache_entries" WHERE provider_id = $1`)).
		WithArgs("sr-main").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "rate_cache_entries" WHERE from_postal_code = $1 AND to_postal_code = $2`)).
		WithArgs("400001", "110001").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "rate_cache_entries" WHERE expires_at <= $1`)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "rate_cache_entries"`)).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	n, err := rates.DeleteProvider(ctx, "sr-main")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = rates.DeleteRoute(ctx, " 400001", "110001 ")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = rates.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = rates.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRateStore_BehindCache(t *testing.T) {
	s, mock := setupMockDB(t)
	cache := ratecache.New(s.RateStore())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rate_cache_entries"`)).
		WillReturnError(errors.New("connection refused"))

	rates, ok := cache.GetCachedRates(context.Background(), shipping.RateRequest{
		FromPostalCode: "400001", ToPostalCode: "110001", Weight: 1.5,
	}, "sr-main")
	assert.False(t, ok)
	assert.Nil(t, rates)
}
