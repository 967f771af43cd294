// Package cache keeps doctor profiles and weekly hours in Redis.
//
// Only slowly changing data lives here. Appointments are never cached: availability
// must always see the bookings committed so far.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mediagenda/internal/availability"
	"mediagenda/internal/metrics"
	"mediagenda/internal/model"
)

// DoctorSource loads doctors from primary storage.
type DoctorSource interface {
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
}

// DoctorCache is a read-through cache in front of a DoctorSource. With a nil Redis
// client every call goes straight to the source.
type DoctorCache struct {
	source DoctorSource
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

type doctorEntry struct {
	Doctor model.Doctor                            `json:"doctor"`
	Hours  map[string][]availability.WorkingPeriod `json:"hours"`
}

// NewDoctorCache wraps source with a redis read-through cache. A nil client
// disables caching.
func NewDoctorCache(source DoctorSource, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *DoctorCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DoctorCache{source: source, redis: client, ttl: ttl, logger: logger}
}

func doctorKey(id int64) string {
	return fmt.Sprintf("mediagenda:doctor:%d", id)
}

// GetDoctor returns the doctor with weekly hours, from Redis when possible.
func (c *DoctorCache) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	if d, ok := c.read(ctx, id); ok {
		metrics.IncCache(true)
		return d, nil
	}
	metrics.IncCache(false)

	d, err := c.source.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.write(ctx, d)
	return d, nil
}

// Invalidate drops the cached entry of a doctor.
func (c *DoctorCache) Invalidate(ctx context.Context, id int64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, doctorKey(id)).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("doctor_id", id).Msg("doctor cache invalidate failed")
	}
}

func (c *DoctorCache) read(ctx context.Context, id int64) (*model.Doctor, bool) {
	if c.redis == nil || c.ttl <= 0 {
		return nil, false
	}

	val, err := c.redis.Get(ctx, doctorKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug().Err(err).Int64("doctor_id", id).Msg("doctor cache read failed")
		}
		return nil, false
	}

	var entry doctorEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false
	}
	hours, err := availability.ScheduleFromNames(entry.Hours)
	if err != nil {
		return nil, false
	}
	entry.Doctor.Hours = hours
	return &entry.Doctor, true
}

func (c *DoctorCache) write(ctx context.Context, d *model.Doctor) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}

	data, err := json.Marshal(doctorEntry{Doctor: *d, Hours: d.Hours.ByName()})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, doctorKey(d.ID), data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Int64("doctor_id", d.ID).Msg("doctor cache write failed")
	}
}
