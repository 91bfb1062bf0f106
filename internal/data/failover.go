package data

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// Failover serves from the primary provider and falls back to the
// backup when the primary fails. Wrap the primary in a Guard so a
// tripped breaker fails over immediately.
type Failover struct {
	primary Provider
	backup  Provider
}

// NewFailover builds the failover pair.
func NewFailover(primary, backup Provider) *Failover {
	return &Failover{primary: primary, backup: backup}
}

func (f *Failover) Name() string {
	return fmt.Sprintf("%s->%s", f.primary.Name(), f.backup.Name())
}

// Bars tries the primary and falls back to the backup on any error.
// Both failing returns the backup's error wrapped with the primary's.
func (f *Failover) Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error) {
	bars, perr := f.primary.Bars(ctx, symbol, interval, limit)
	if perr == nil {
		return bars, nil
	}

	log.Warn().
		Err(perr).
		Str("primary", f.primary.Name()).
		Str("backup", f.backup.Name()).
		Str("symbol", symbol).
		Msg("primary provider failed, using backup")

	bars, berr := f.backup.Bars(ctx, symbol, interval, limit)
	if berr != nil {
		return nil, fmt.Errorf("backup %s: %w (primary %s: %v)", f.backup.Name(), berr, f.primary.Name(), perr)
	}
	return bars, nil
}
