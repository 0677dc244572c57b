package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AddTrackedCID records a cid we published that we want to audit (spec §4.8.1).
func (s *Store) AddTrackedCID(t TrackedCID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing TrackedCID
		err := tx.First(&existing, "cid = ?", t.CID).Error
		if err == nil {
			return nil // already tracked
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check tracked cid: %w", err)
		}
		t.CreatedAt = time.Now()
		return tx.Create(&t).Error
	})
}

// GetTrackedCIDByHash looks up a TrackedCID by its hex-encoded SHA-256 hash,
// used because PinnedEvent/UnpinEvent carry only the hash (spec §4.2).
func (s *Store) GetTrackedCIDByHash(cidHash string) (TrackedCID, error) {
	var t TrackedCID
	err := s.db.First(&t, "cid_hash = ?", cidHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrackedCID{}, ErrNotFound
	}
	if err != nil {
		return TrackedCID{}, fmt.Errorf("failed to read tracked cid: %w", err)
	}
	return t, nil
}

// AddTrackedPin inserts a (cid, pinner) tracking row, deduped by the
// composite key (spec §3, §4.8.1).
func (s *Store) AddTrackedPin(t TrackedPin) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing TrackedPin
		err := tx.First(&existing, "cid = ? AND pinner = ?", t.CID, t.Pinner).Error
		if err == nil {
			return nil // already tracked
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check tracked pin: %w", err)
		}
		if t.Status == "" {
			t.Status = TrackedPinTracking
		}
		return tx.Create(&t).Error
	})
}

// GetTrackedPins lists tracked pins optionally filtered by a set of statuses.
func (s *Store) GetTrackedPins(statuses ...TrackedPinStatus) ([]TrackedPin, error) {
	q := s.db.Model(&TrackedPin{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var pins []TrackedPin
	if err := q.Find(&pins).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracked pins: %w", err)
	}
	return pins, nil
}

// UpdateTrackedPin persists a mutated tracked-pin row inside one transaction,
// matching the "one operation, one transaction" store contract (spec §5).
func (s *Store) UpdateTrackedPin(t TrackedPin) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Save(&t).Error
	})
}

// MarkTrackedPinsSlotFreed transitions every tracked pin of cid to
// slot_freed (UNPIN handling, spec §4.8.1).
func (s *Store) MarkTrackedPinsSlotFreed(cid string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&TrackedPin{}).Where("cid = ?", cid).Update("status", TrackedPinSlotFreed).Error
	})
}

// RecordVerification appends a verification log row (spec §3).
func (s *Store) RecordVerification(cid, pinner string, passed *bool, methodUsed string, methodsAttempted []string, durationMs int64) error {
	attempted, err := json.Marshal(methodsAttempted)
	if err != nil {
		return fmt.Errorf("failed to encode methods attempted: %w", err)
	}
	entry := VerificationLogEntry{
		CID:              cid,
		Pinner:           pinner,
		Passed:           passed,
		MethodUsed:       methodUsed,
		MethodsAttempted: string(attempted),
		DurationMs:       durationMs,
		CheckedAt:        time.Now(),
	}
	return s.db.Create(&entry).Error
}

// AppendCycle appends a verification cycle summary row (spec §3).
func (s *Store) AppendCycle(c VerificationCycle) error {
	return s.db.Create(&c).Error
}

// SaveFlag appends a flag record, enforcing at most one non-failed row
// per pinner (spec §3 invariant, §8 property 4).
func (s *Store) SaveFlag(f FlagRecord) error {
	f.SubmittedAt = time.Now()
	err := s.db.Create(&f).Error
	if err != nil && isUniqueConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

// GetFlagHistory returns all flag records, most recent first.
func (s *Store) GetFlagHistory() ([]FlagRecord, error) {
	var flags []FlagRecord
	if err := s.db.Order("id desc").Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("failed to read flag history: %w", err)
	}
	return flags, nil
}

// HasAlreadyFlagged scans local flag history for pinnerAddress (spec §4.8.4).
func (s *Store) HasAlreadyFlagged(pinnerAddress string) (bool, error) {
	var count int64
	if err := s.db.Model(&FlagRecord{}).Where("pinner_address = ?", pinnerAddress).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check flag history: %w", err)
	}
	return count > 0, nil
}

// PinnerCacheGet reads a cached pinner-registry entry.
func (s *Store) PinnerCacheGet(address string) (PinnerCacheEntry, error) {
	var e PinnerCacheEntry
	err := s.db.First(&e, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PinnerCacheEntry{}, ErrNotFound
	}
	if err != nil {
		return PinnerCacheEntry{}, fmt.Errorf("failed to read pinner cache: %w", err)
	}
	return e, nil
}

// PinnerCacheSet writes/refreshes a cached pinner-registry entry.
func (s *Store) PinnerCacheSet(e PinnerCacheEntry) error {
	e.CachedAt = time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Save(&e).Error
	})
}

// PinnerCacheExpire deletes a stale cache entry, forcing the next read to
// refetch from the ledger (lazy eviction, spec §4.8.5).
func (s *Store) PinnerCacheExpire(address string) error {
	return s.db.Delete(&PinnerCacheEntry{}, "address = ?", address).Error
}
