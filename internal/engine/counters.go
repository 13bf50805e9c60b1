package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/localcache"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
)

// dayNumber encodes a "2006-01-02" day as 20060102 for the integer-only counter store.
func dayNumber(day string) int64 {
	parsed, err := time.Parse("2006-01-02", day)
	if err != nil {
		return 0
	}
	return int64(parsed.Year()*10000 + int(parsed.Month())*100 + parsed.Day())
}

func dayFromNumber(value int64) string {
	if value <= 0 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", value/10000, (value/100)%100, value%100)
}

func loadQuotaState(ctx context.Context, cache LocalCache) (quota.State, error) {
	count, err := cache.GetCounter(ctx, localcache.KeyDailyCount)
	if err != nil {
		return quota.State{}, err
	}
	day, err := cache.GetCounter(ctx, localcache.KeyDailyCountDate)
	if err != nil {
		return quota.State{}, err
	}
	lastSave, err := cache.GetCounter(ctx, localcache.KeyLastSave)
	if err != nil {
		return quota.State{}, err
	}
	state := quota.State{DailyCount: int(count), Day: dayFromNumber(day)}
	if lastSave > 0 {
		state.LastSave = time.UnixMilli(lastSave)
	}
	return state, nil
}

func storeQuotaState(ctx context.Context, cache LocalCache, state quota.State) error {
	if err := cache.SetCounter(ctx, localcache.KeyDailyCount, int64(state.DailyCount)); err != nil {
		return err
	}
	if err := cache.SetCounter(ctx, localcache.KeyDailyCountDate, dayNumber(state.Day)); err != nil {
		return err
	}
	if state.LastSave.IsZero() {
		return nil
	}
	return cache.SetCounter(ctx, localcache.KeyLastSave, state.LastSave.UnixMilli())
}
