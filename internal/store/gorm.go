package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
	"github.com/tournevent/courierbridge/pkg/shipping/ratecache"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// GormStore implements Store on a GORM database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates every table the store owns.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&providerConfigRecord{},
		&eventRecord{},
		&trackingRecord{},
		&rateCacheRecord{},
	)
}

// RateStore returns the rate-cache store backed by the same database.
func (s *GormStore) RateStore() *GormRateStore {
	return &GormRateStore{db: s.db}
}

// ListProviderConfigs returns every configuration record ordered by priority, then id.
func (s *GormStore) ListProviderConfigs(ctx context.Context) ([]shipping.ProviderConfig, error) {
	var records []providerConfigRecord
	if err := s.db.WithContext(ctx).Order("priority ASC, id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing provider configs: %w", err)
	}
	configs := make([]shipping.ProviderConfig, len(records))
	for i, r := range records {
		configs[i] = r.toDomain()
	}
	return configs, nil
}

// GetProviderConfig returns one configuration record.
func (s *GormStore) GetProviderConfig(ctx context.Context, id string) (*shipping.ProviderConfig, error) {
	var records []providerConfigRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading provider config %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", shipping.ErrProviderNotFound, id)
	}
	cfg := records[0].toDomain()
	return &cfg, nil
}

// SaveProviderConfig inserts or replaces a configuration record.
func (s *GormStore) SaveProviderConfig(ctx context.Context, cfg shipping.ProviderConfig) error {
	record := newProviderConfigRecord(cfg)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "display_name", "priority", "enabled", "delivery_modes", "credentials", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("saving provider config %s: %w", cfg.ID, err)
	}
	return nil
}

// AppendEvent adds an entry to the event log.
func (s *GormStore) AppendEvent(ctx context.Context, ev shipping.Event) error {
	record := newEventRecord(ev)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("appending %s event: %w", ev.Type, err)
	}
	return nil
}

// ListEvents returns matching events, newest first.
func (s *GormStore) ListEvents(ctx context.Context, filter EventFilter) ([]shipping.Event, error) {
	query := s.db.WithContext(ctx).Model(&eventRecord{})
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.ProviderID != "" {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}

	var records []eventRecord
	if err := query.Order("created_at DESC").Limit(filter.limit()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	events := make([]shipping.Event, len(records))
	for i, r := range records {
		events[i] = r.toDomain()
	}
	return events, nil
}

// GetTracking returns the stored history, or nil when none is stored.
func (s *GormStore) GetTracking(ctx context.Context, providerID, trackingNumber string) (*shipping.TrackingInfo, error) {
	var records []trackingRecord
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND tracking_number = ?", providerID, trackingNumber).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("loading tracking %s: %w", trackingNumber, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].toDomain()
}

// SaveTracking upserts the history of one shipment.
func (s *GormStore) SaveTracking(ctx context.Context, info *shipping.TrackingInfo) error {
	record, err := newTrackingRecord(info)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}, {Name: "tracking_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_id", "status", "info", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("saving tracking %s: %w", info.TrackingNumber, err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)

// ============================================================================
// Rate cache records
// ============================================================================

// GormRateStore implements ratecache.Store on the rate_cache_entries table.
type GormRateStore struct {
	db *gorm.DB
}

// Get returns the entry for key, or nil on a miss.
func (s *GormRateStore) Get(ctx context.Context, key ratecache.Key) (*ratecache.Entry, error) {
	var records []rateCacheRecord
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key.String()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading rate cache %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].toEntry()
}

// Set upserts an entry; the last write for a key wins.
func (s *GormRateStore) Set(ctx context.Context, entry ratecache.Entry) error {
	record, err := newRateCacheRecord(entry)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("saving rate cache %s: %w", entry.Key, err)
	}
	return nil
}

// DeleteProvider removes every entry of a provider.
func (s *GormRateStore) DeleteProvider(ctx context.Context, providerID string) (int, error) {
	return deleted(s.db.WithContext(ctx).Where("provider_id = ?", providerID).Delete(&rateCacheRecord{}))
}

// DeleteRoute removes every entry of a route across providers.
func (s *GormRateStore) DeleteRoute(ctx context.Context, from, to string) (int, error) {
	return deleted(s.db.WithContext(ctx).
		Where("from_postal_code = ? AND to_postal_code = ?", ratecache.PostalCode(from), ratecache.PostalCode(to)).
		Delete(&rateCacheRecord{}))
}

// DeleteExpired removes entries that are no longer valid at now.
func (s *GormRateStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return deleted(s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&rateCacheRecord{}))
}

// Clear removes every entry.
func (s *GormRateStore) Clear(ctx context.Context) (int, error) {
	return deleted(s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&rateCacheRecord{}))
}

func deleted(result *gorm.DB) (int, error) {
	if result.Error != nil {
		return 0, fmt.Errorf("deleting rate cache entries: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

var _ ratecache.Store = (*GormRateStore)(nil)
