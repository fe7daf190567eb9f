package shipping_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/courierbridge/pkg/shipping"
)

func status(s shipping.ShipmentStatus, offset time.Duration) shipping.TrackingStatus {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return shipping.TrackingStatus{Status: s, Timestamp: base.Add(offset)}
}

func TestTrackingInfo_ApplyForward(t *testing.T) {
	info := &shipping.TrackingInfo{TrackingNumber: "AWB1"}

	assert.True(t, info.Apply(status(shipping.StatusCreated, 0)))
	assert.True(t, info.Apply(status(shipping.StatusPickedUp, time.Hour)))
	assert.True(t, info.Apply(status(shipping.StatusInTransit, 2*time.Hour)))
	assert.True(t, info.Apply(status(shipping.StatusOutForDelivery, 3*time.Hour)))
	assert.True(t, info.Apply(status(shipping.StatusDelivered, 4*time.Hour)))

	assert.Equal(t, shipping.StatusDelivered, info.Current.Status)
	assert.Len(t, info.History, 5)
}

func TestTrackingInfo_DuplicateIsNoop(t *testing.T) {
	info := &shipping.TrackingInfo{}
	info.Apply(status(shipping.StatusInTransit, 0))

	assert.False(t, info.Apply(status(shipping.StatusInTransit, 0)))
	assert.Len(t, info.History, 1)
}

func TestTrackingInfo_OutOfOrderIsNoop(t *testing.T) {
	info := &shipping.TrackingInfo{}
	info.Apply(status(shipping.StatusInTransit, 2*time.Hour))

	assert.False(t, info.Apply(status(shipping.StatusPickedUp, time.Hour)))
	assert.Equal(t, shipping.StatusInTransit, info.Current.Status)
	assert.Len(t, info.History, 1)
}

func TestTrackingInfo_TerminalIsFinal(t *testing.T) {
	info := &shipping.TrackingInfo{}
	info.Apply(status(shipping.StatusCancelled, 0))

	assert.False(t, info.Apply(status(shipping.StatusDelivered, time.Hour)))
	assert.Equal(t, shipping.StatusCancelled, info.Current.Status)
}

func TestTrackingInfo_FailedThenReturned(t *testing.T) {
	info := &shipping.TrackingInfo{}
	info.Merge([]shipping.TrackingStatus{
		status(shipping.StatusOutForDelivery, 0),
		status(shipping.StatusFailed, time.Hour),
		status(shipping.StatusReturned, 48*time.Hour),
	})

	assert.Equal(t, shipping.StatusReturned, info.Current.Status)
	assert.Len(t, info.History, 3)
}

func TestTrackingInfo_UnknownStatusIgnored(t *testing.T) {
	info := &shipping.TrackingInfo{}
	assert.False(t, info.Apply(shipping.TrackingStatus{Status: "lost_in_space"}))
	assert.Empty(t, info.History)
}

func TestTrackingInfo_MergeCountsApplied(t *testing.T) {
	info := &shipping.TrackingInfo{}
	applied := info.Merge([]shipping.TrackingStatus{
		status(shipping.StatusCreated, 0),
		status(shipping.StatusCreated, time.Minute),
		status(shipping.StatusInTransit, time.Hour),
		status(shipping.StatusPickedUp, 2*time.Hour),
	})
	assert.Equal(t, 2, applied)
}
