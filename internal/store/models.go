package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
)

// providerConfigRecord is the provider_configs row.
type providerConfigRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	Code          string `gorm:"size:32;not null;index"`
	DisplayName   string `gorm:"size:128"`
	Priority      int    `gorm:"not null"`
	Enabled       bool   `gorm:"not null"`
	DeliveryModes string `gorm:"size:128"` // comma separated
	Credentials   string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (providerConfigRecord) TableName() string { return "provider_configs" }

func newProviderConfigRecord(cfg shipping.ProviderConfig) providerConfigRecord {
	modes := make([]string, len(cfg.DeliveryModes))
	for i, m := range cfg.DeliveryModes {
		modes[i] = string(m)
	}
	return providerConfigRecord{
		ID:            cfg.ID,
		Code:          cfg.Code,
		DisplayName:   cfg.DisplayName,
		Priority:      cfg.Priority,
		Enabled:       cfg.Enabled,
		DeliveryModes: strings.Join(modes, ","),
		Credentials:   string(cfg.Credentials),
	}
}

func (r providerConfigRecord) toDomain() shipping.ProviderConfig {
	cfg := shipping.ProviderConfig{
		ID:          r.ID,
		Code:        r.Code,
		DisplayName: r.DisplayName,
		Priority:    r.Priority,
		Enabled:     r.Enabled,
	}
	if r.DeliveryModes != "" {
		for _, m := range strings.Split(r.DeliveryModes, ",") {
			cfg.DeliveryModes = append(cfg.DeliveryModes, shipping.DeliveryMode(strings.TrimSpace(m)))
		}
	}
	if r.Credentials != "" {
		cfg.Credentials = json.RawMessage(r.Credentials)
	}
	return cfg
}

// eventRecord is the shipping_events row. Rows are never updated.
type eventRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	OrderID    string    `gorm:"size:128;index"`
	ProviderID string    `gorm:"size:64;index"`
	Type       string    `gorm:"size:32;not null"`
	Outcome    string    `gorm:"size:16;not null"`
	Request    string    `gorm:"type:text"`
	Response   string    `gorm:"type:text"`
	Error      string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

func (eventRecord) TableName() string { return "shipping_events" }

func newEventRecord(ev shipping.Event) eventRecord {
	return eventRecord{
		ID:         ev.ID,
		OrderID:    ev.OrderID,
		ProviderID: ev.ProviderID,
		Type:       string(ev.Type),
		Outcome:    string(ev.Outcome),
		Request:    string(ev.Request),
		Response:   string(ev.Response),
		Error:      ev.Error,
		CreatedAt:  ev.CreatedAt,
	}
}

func (r eventRecord) toDomain() shipping.Event {
	ev := shipping.Event{
		ID:         r.ID,
		OrderID:    r.OrderID,
		ProviderID: r.ProviderID,
		Type:       shipping.EventType(r.Type),
		Outcome:    shipping.Outcome(r.Outcome),
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
	if r.Request != "" {
		ev.Request = json.RawMessage(r.Request)
	}
	if r.Response != "" {
		ev.Response = json.RawMessage(r.Response)
	}
	return ev
}

// trackingRecord is the tracking_records row holding the full history as JSON.
type trackingRecord struct {
	ProviderID     string `gorm:"primaryKey;size:64"`
	TrackingNumber string `gorm:"primaryKey;size:64"`
	OrderID        string `gorm:"size:128;index"`
	Status         string `gorm:"size:32;not null"`
	Info           string `gorm:"type:text;not null"`
	UpdatedAt      time.Time
}

func (trackingRecord) TableName() string { return "tracking_records" }

func newTrackingRecord(info *shipping.TrackingInfo) (trackingRecord, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return trackingRecord{}, fmt.Errorf("encoding tracking %s: %w", info.TrackingNumber, err)
	}
	return trackingRecord{
		ProviderID:     info.ProviderID,
		TrackingNumber: info.TrackingNumber,
		OrderID:        info.OrderID,
		Status:         string(info.Current.Status),
		Info:           string(data),
	}, nil
}

func (r trackingRecord) toDomain() (*shipping.TrackingInfo, error) {
	var info shipping.TrackingInfo
	if err := json.Unmarshal([]byte(r.Info), &info); err != nil {
		return nil, fmt.Errorf("decoding tracking %s: %w", r.TrackingNumber, err)
	}
	return &info, nil
}

// rateCacheRecord is the rate_cache_entries row: one provider's quote list for one key.
type rateCacheRecord struct {
	CacheKey       string    `gorm:"primaryKey;size:160"`
	ProviderID     string    `gorm:"size:64;not null;index"`
	FromPostalCode string    `gorm:"size:16;not null;index:idx_rate_cache_route"`
	ToPostalCode   string    `gorm:"size:16;not null;index:idx_rate_cache_route"`
	Weight         float64   `gorm:"not null"`
	PaymentMode    string    `gorm:"size:16;not null"`
	Rates          string    `gorm:"type:text;not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
	CreatedAt      time.Time
}

func (rateCacheRecord) TableName() string { return "rate_cache_entries" }

func newRateCacheRecord(e ratecache.Entry) (rateCacheRecord, error) {
	data, err := json.Marshal(e.Rates)
	if err != nil {
		return rateCacheRecord{}, fmt.Errorf("encoding rates %s: %w", e.Key, err)
	}
	return rateCacheRecord{
		CacheKey:       e.Key.String(),
		ProviderID:     e.Key.ProviderID,
		FromPostalCode: e.Key.FromPostalCode,
		ToPostalCode:   e.Key.ToPostalCode,
		Weight:         e.Key.Weight,
		PaymentMode:    string(e.Key.PaymentMode),
		Rates:          string(data),
		ExpiresAt:      e.ExpiresAt,
		CreatedAt:      e.CreatedAt,
	}, nil
}

func (r rateCacheRecord) toEntry() (*ratecache.Entry, error) {
	var rates []shipping.Rate
	if err := json.Unmarshal([]byte(r.Rates), &rates); err != nil {
		return nil, fmt.Errorf("decoding rates %s: %w", r.CacheKey, err)
	}
	return &ratecache.Entry{
		Key: ratecache.Key{
			ProviderID:     r.ProviderID,
			FromPostalCode: r.FromPostalCode,
			ToPostalCode:   r.ToPostalCode,
			Weight:         r.Weight,
			PaymentMode:    shipping.PaymentMode(r.PaymentMode),
		},
		Rates:     rates,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}, nil
}
