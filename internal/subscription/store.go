package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/rs/zerolog"
)

// Store holds the tier configuration and validates every edit before it
// becomes visible to the lock policy.
type Store struct {
	kv        storage.KV
	tier      Tier
	free      FreeSettings
	premium   PremiumSettings
	listeners []func(Settings)
	logger    zerolog.Logger
	mu        sync.Mutex
}

// NewStore loads the persisted configuration, falling back to first-run
// defaults: free tier with no budget set.
func NewStore(ctx context.Context, kv storage.KV, logger zerolog.Logger) *Store {
	s := &Store{
		kv:     kv,
		logger: logger.With().Str("component", "subscription").Logger(),
	}

	var err error
	if s.tier, err = storage.LoadOr(ctx, kv, storage.KeyTier, Free); err != nil {
		s.logger.Error().Err(err).Msg("Failed to load tier, using free")
	}
	if _, err := ParseTier(string(s.tier)); err != nil {
		s.logger.Warn().Str("tier", string(s.tier)).Msg("Unknown stored tier, using free")
		s.tier = Free
	}
	if s.free, err = storage.LoadOr(ctx, kv, storage.KeyFreeSettings, FreeSettings{}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to load free settings, using defaults")
	}
	if s.premium, err = storage.LoadOr(ctx, kv, storage.KeyPremiumSettings, DefaultPremiumSettings()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to load premium settings, using defaults")
	}
	if s.premium.TimeSlots == nil {
		s.premium.TimeSlots = []TimeSlot{}
	}

	return s
}

// Tier returns the active tier.
func (s *Store) Tier() Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// CurrentSettings returns a copy of the active tier's settings.
func (s *Store) CurrentSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked()
}

func (s *Store) settingsLocked() Settings {
	if s.tier == Premium {
		premium := s.premium.clone()
		return Settings{Tier: Premium, Premium: &premium}
	}
	free := s.free
	return Settings{Tier: Free, Free: &free}
}

// OnChange registers fn to be called with the new settings after every
// successful mutation. fn runs without the store lock held.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// AddTimeSlot appends slot to the premium slot list.
func (s *Store) AddTimeSlot(ctx context.Context, slot TimeSlot) error {
	s.mu.Lock()
	if err := s.checkAddLocked(slot); err != nil {
		s.mu.Unlock()
		return err
	}
	s.premium.TimeSlots = append(s.premium.TimeSlots, slot)
	s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	return s.commit("Time slot added", slot)
}

func (s *Store) checkAddLocked(slot TimeSlot) error {
	if s.tier != Premium {
		return ErrRequiresPremium
	}
	if len(s.premium.TimeSlots) >= MaxTimeSlots {
		return ErrMaxSlotsReached
	}
	if err := slot.Validate(); err != nil {
		return err
	}
	for _, existing := range s.premium.TimeSlots {
		if existing.ID == slot.ID {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidSlot, slot.ID)
		}
		if slot.Overlaps(existing) {
			return fmt.Errorf("%w: %s overlaps %s", ErrOverlappingSlots, slot, existing)
		}
	}
	return nil
}

// UpdateTimeSlot replaces the slot with the same id, keeping its position.
func (s *Store) UpdateTimeSlot(ctx context.Context, slot TimeSlot) error {
	s.mu.Lock()
	if s.tier != Premium {
		s.mu.Unlock()
		return ErrRequiresPremium
	}
	index := -1
	for i, existing := range s.premium.TimeSlots {
		if existing.ID == slot.ID {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		return ErrSlotNotFound
	}
	if err := slot.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	for i, existing := range s.premium.TimeSlots {
		if i != index && slot.Overlaps(existing) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s overlaps %s", ErrOverlappingSlots, slot, existing)
		}
	}
	s.premium.TimeSlots[index] = slot
	s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	return s.commit("Time slot updated", slot)
}

// RemoveTimeSlot deletes the slot with id. Removing an absent slot is a no-op.
func (s *Store) RemoveTimeSlot(ctx context.Context, id string) {
	s.mu.Lock()
	kept := s.premium.TimeSlots[:0]
	removed := false
	for _, existing := range s.premium.TimeSlots {
		if existing.ID == id {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	s.premium.TimeSlots = kept
	if !removed {
		s.mu.Unlock()
		return
	}
	s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	_ = s.commit("Time slot removed", TimeSlot{ID: id})
}

// SetTimeSlotMode switches premium between slot mode and daily mode.
func (s *Store) SetTimeSlotMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	if s.tier != Premium {
		s.mu.Unlock()
		return ErrRequiresPremium
	}
	s.premium.UseTimeSlotMode = enabled
	s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	return s.commit("Time slot mode changed", TimeSlot{})
}

// SetPremiumAutoUnlock sets or clears (nil) the premium unlock override.
func (s *Store) SetPremiumAutoUnlock(ctx context.Context, at *clock.TimeOfDay) error {
	s.mu.Lock()
	if s.tier != Premium {
		s.mu.Unlock()
		return ErrRequiresPremium
	}
	if at != nil && !at.Valid() {
		s.mu.Unlock()
		return fmt.Errorf("%w: auto unlock %s", ErrInvalidSettings, at)
	}
	s.premium.AutoUnlock = at
	s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	return s.commit("Premium auto unlock changed", TimeSlot{})
}

// UpdateFreeSettings replaces the free-tier budget and auto-unlock time.
// A limit of zero clears the budget.
func (s *Store) UpdateFreeSettings(ctx context.Context, limit time.Duration, hour, minute int) error {
	if limit != 0 && (limit < MinDailyLimit || limit > MaxDailyLimit) {
		return fmt.Errorf("%w: daily limit %v not within %v..%v", ErrInvalidSettings, limit, MinDailyLimit, MaxDailyLimit)
	}
	at := clock.TimeOfDay{Hour: hour, Minute: minute}
	if !at.Valid() {
		return fmt.Errorf("%w: auto unlock %d:%d", ErrInvalidSettings, hour, minute)
	}

	s.mu.Lock()
	s.free = FreeSettings{DailyLimitSeconds: int64(limit / time.Second), AutoUnlock: at}
	s.persistLocked(ctx, storage.KeyFreeSettings, s.free)
	return s.commit("Free settings updated", TimeSlot{})
}

// SetTier changes the active tier. Downgrading to free discards every
// premium setting, including all time slots; upgrading again starts empty.
func (s *Store) SetTier(ctx context.Context, tier Tier) error {
	if _, err := ParseTier(string(tier)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.tier == tier {
		s.mu.Unlock()
		return nil
	}
	previous := s.tier
	s.tier = tier
	if previous == Premium && tier == Free {
		s.premium = DefaultPremiumSettings()
		s.persistLocked(ctx, storage.KeyPremiumSettings, s.premium)
	}
	s.persistLocked(ctx, storage.KeyTier, s.tier)

	s.logger.Info().
		Str("from", string(previous)).
		Str("to", string(tier)).
		Msg("Subscription tier changed")
	return s.commit("", TimeSlot{})
}

func (s *Store) persistLocked(ctx context.Context, key string, value any) {
	if err := storage.PutJSON(ctx, s.kv, key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to persist subscription settings")
	}
}

// commit releases s.mu and notifies listeners.
func (s *Store) commit(msg string, slot TimeSlot) error {
	settings := s.settingsLocked()
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	if msg != "" {
		s.logger.Info().
			Str("tier", string(settings.Tier)).
			Str("slot_id", slot.ID).
			Msg(msg)
	}
	for _, fn := range listeners {
		fn(settings)
	}
	return nil
}
