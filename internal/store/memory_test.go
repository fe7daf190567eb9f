package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierbridge/internal/store"
	"github.com/tournevent/courierbridge/pkg/shipping"
)

func TestMemoryStore_ProviderConfigs(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveProviderConfig(ctx, shipping.ProviderConfig{ID: "b", Code: "mock", Priority: 2}))
	require.NoError(t, s.SaveProviderConfig(ctx, shipping.ProviderConfig{ID: "a", Code: "mock", Priority: 2}))
	require.NoError(t, s.SaveProviderConfig(ctx, shipping.ProviderConfig{ID: "c", Code: "shiprocket", Priority: 1}))

	configs, err := s.ListProviderConfigs(ctx)
	require.NoError(t, err)
	ids := make([]string, len(configs))
	for i, c := range configs {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	require.NoError(t, s.SaveProviderConfig(ctx, shipping.ProviderConfig{ID: "a", Code: "mock", Priority: 0, DisplayName: "Renamed"}))
	cfg, err := s.GetProviderConfig(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", cfg.DisplayName)

	_, err = s.GetProviderConfig(ctx, "zzz")
	assert.ErrorIs(t, err, shipping.ErrProviderNotFound)
}

func TestMemoryStore_ListEvents(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEvent(ctx, shipping.Event{
			ID:         fmt.Sprintf("e%d", i),
			OrderID:    fmt.Sprintf("ORD-%d", i%2),
			ProviderID: "p1",
			Type:       shipping.EventRateQuery,
			Outcome:    shipping.OutcomeSuccess,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, shipping.Event{ID: "w", OrderID: "ORD-0", ProviderID: "p2", Type: shipping.EventWebhook}))

	events, err := s.ListEvents(ctx, store.EventFilter{OrderID: "ORD-0"})
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "w", events[0].ID, "newest first")

	events, err = s.ListEvents(ctx, store.EventFilter{Type: shipping.EventRateQuery, Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e4", events[0].ID)
	assert.Equal(t, "e3", events[1].ID)

	events, err = s.ListEvents(ctx, store.EventFilter{ProviderID: "p2"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryStore_TrackingIsCopied(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	missing, err := s.GetTracking(ctx, "p1", "AWB1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	info := &shipping.TrackingInfo{TrackingNumber: "AWB1", ProviderID: "p1"}
	info.Apply(shipping.TrackingStatus{Status: shipping.StatusCreated, Timestamp: time.Now()})
	require.NoError(t, s.SaveTracking(ctx, info))

	info.Apply(shipping.TrackingStatus{Status: shipping.StatusInTransit, Timestamp: time.Now()})

	stored, err := s.GetTracking(ctx, "p1", "AWB1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.History, 1, "caller mutations must not leak into the store")

	stored.Apply(shipping.TrackingStatus{Status: shipping.StatusDelivered, Timestamp: time.Now()})
	again, err := s.GetTracking(ctx, "p1", "AWB1")
	require.NoError(t, err)
	assert.Equal(t, shipping.StatusCreated, again.Current.Status)

	other, err := s.GetTracking(ctx, "p2", "AWB1")
	require.NoError(t, err)
	assert.Nil(t, other)
}
