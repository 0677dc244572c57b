// Package store is the single durable source of truth for the daemon
// (spec §4.1). It wraps a gorm.DB over glebarez/sqlite, grounded on
// blinklabs-io/dingo's MetadataStoreSqlite: an in-memory database when no
// path is given, AutoMigrate on every Open so reopening against an
// existing file upgrades its schema idempotently, and one write
// transaction at a time enforced by the database's own locking.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")
var ErrTerminal = errors.New("offer already in a terminal state")
var ErrDuplicate = errors.New("duplicate row")

// Store is the durable state root. Other components hold only a *Store
// handle and mutate exclusively through its methods; no component reaches
// into the gorm.DB directly (spec §3 "Ownership").
type Store struct {
	db *gorm.DB
}

// Open creates or reopens the state store at dataPath. An empty dataPath
// opens an in-memory database, useful for tests.
func Open(dataPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if dataPath == "" {
		db, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		})
	} else {
		dir := filepath.Dir(dataPath)
		if _, statErr := os.Stat(dir); statErr != nil {
			if !errors.Is(statErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to stat data dir: %w", statErr)
			}
			if mkErr := os.MkdirAll(dir, os.ModePerm); mkErr != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(dataPath), &gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&Cursor{}, &DaemonConfig{}, &Offer{}, &Claim{}, &Pin{}, &ActivityEntry{},
		&TrackedCID{}, &TrackedPin{}, &VerificationLogEntry{}, &VerificationCycle{},
		&FlagRecord{}, &PinnerCacheEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Cursor ---

// GetCursor returns the current ledger cursor, 0 if never set.
func (s *Store) GetCursor() (uint32, error) {
	var c Cursor
	err := s.db.First(&c, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	return c.LedgerSequence, nil
}

// SetCursor advances the cursor. Invariant: monotonically non-decreasing;
// callers must only invoke this after all events up to ledger are
// durably recorded (spec §3).
func (s *Store) SetCursor(ledger uint32) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var c Cursor
		err := tx.First(&c, "id = ?", 1).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Cursor{ID: 1, LedgerSequence: ledger, UpdatedAt: time.Now()}).Error
		case err != nil:
			return fmt.Errorf("failed to read cursor: %w", err)
		}
		if ledger < c.LedgerSequence {
			return fmt.Errorf("cursor is not monotonically non-decreasing: have %d, got %d", c.LedgerSequence, ledger)
		}
		c.LedgerSequence = ledger
		c.UpdatedAt = time.Now()
		return tx.Save(&c).Error
	})
}

// --- Config ---

// GetDaemonConfig returns the singleton policy record, seeding it with
// defaults if never set.
func (s *Store) GetDaemonConfig(defaults DaemonConfig) (DaemonConfig, error) {
	var c DaemonConfig
	err := s.db.First(&c, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults.ID = 1
		defaults.UpdatedAt = time.Now()
		if err := s.db.Create(&defaults).Error; err != nil {
			return DaemonConfig{}, fmt.Errorf("failed to seed daemon config: %w", err)
		}
		return defaults, nil
	}
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("failed to read daemon config: %w", err)
	}
	return c, nil
}

// SetDaemonConfig applies the given non-nil fields durably. Takes effect
// on the next event processed, per spec §3.
func (s *Store) SetDaemonConfig(mode *DaemonMode, minPrice, maxContentSize *int64) (DaemonConfig, error) {
	var out DaemonConfig
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var c DaemonConfig
		if err := tx.First(&c, "id = ?", 1).Error; err != nil {
			return fmt.Errorf("failed to read daemon config: %w", err)
		}
		if mode != nil {
			c.Mode = *mode
		}
		if minPrice != nil {
			c.MinPrice = *minPrice
		}
		if maxContentSize != nil {
			c.MaxContentSize = *maxContentSize
		}
		c.UpdatedAt = time.Now()
		out = c
		return tx.Save(&c).Error
	})
	return out, err
}

// --- Offers ---

// SaveOffer inserts a new offer row, ignoring the call if slot_id already
// exists (first-writer-wins, giving idempotent re-ingestion per spec §4.1).
func (s *Store) SaveOffer(o Offer) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing Offer
		err := tx.First(&existing, "slot_id = ?", o.SlotID).Error
		if err == nil {
			return nil // insert-or-ignore
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check existing offer: %w", err)
		}
		o.CreatedAt = time.Now()
		o.UpdatedAt = time.Now()
		return tx.Create(&o).Error
	})
}

// GetOffer fetches a single offer by slot id.
func (s *Store) GetOffer(slotID uint64) (Offer, error) {
	var o Offer
	err := s.db.First(&o, "slot_id = ?", slotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Offer{}, ErrNotFound
	}
	if err != nil {
		return Offer{}, fmt.Errorf("failed to read offer: %w", err)
	}
	return o, nil
}

// legalOfferTransitions enumerates the state machine edges of spec §3.
var legalOfferTransitions = map[OfferStatus]map[OfferStatus]bool{
	OfferPending: {
		OfferRejected:         true,
		OfferAwaitingApproval: true,
		OfferPinning:          true,
		OfferExpired:          true,
	},
	OfferAwaitingApproval: {
		OfferApproved: true,
		OfferRejected: true,
		OfferExpired:  true,
	},
	OfferApproved: {
		OfferPinning: true,
		OfferExpired: true,
	},
	OfferPinning: {
		OfferPinned:    true,
		OfferPinFailed: true,
		OfferExpired:   true,
	},
	OfferPinned: {
		OfferClaiming: true,
		OfferFilled:   true,
		OfferExpired:  true,
	},
	OfferClaiming: {
		OfferClaimed:     true,
		OfferClaimFailed: true,
		OfferExpired:     true,
	},
	OfferClaimed: {
		OfferFilled: true,
	},
}

// UpdateOfferStatus transitions an offer, rejecting any move that would
// leave a terminal state (spec §3 invariant (a), §4.1).
func (s *Store) UpdateOfferStatus(slotID uint64, next OfferStatus, rejectReason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var o Offer
		if err := tx.First(&o, "slot_id = ?", slotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to read offer: %w", err)
		}
		if o.Status != next {
			allowed := legalOfferTransitions[o.Status]
			if !allowed[next] {
				if o.Status.IsTerminal() {
					return ErrTerminal
				}
				return fmt.Errorf("illegal offer transition %s -> %s", o.Status, next)
			}
		} else if o.Status.IsTerminal() {
			return ErrTerminal
		}
		o.Status = next
		o.RejectReason = rejectReason
		o.UpdatedAt = time.Now()
		return tx.Save(&o).Error
	})
}

// SetApprovalExpiry records when an awaiting_approval offer should be
// treated as stale by the daemon loop's expiry sweep (spec §4.7 step 4).
func (s *Store) SetApprovalExpiry(slotID uint64, expiry time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&Offer{}).Where("slot_id = ?", slotID).Update("estimated_expiry", expiry).Error
	})
}

// GetOffersByStatus lists offers currently in the given status.
func (s *Store) GetOffersByStatus(status OfferStatus) ([]Offer, error) {
	var offers []Offer
	if err := s.db.Where("status = ?", status).Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("failed to list offers by status: %w", err)
	}
	return offers, nil
}

// GetApprovalQueue lists offers awaiting an explicit operator decision.
func (s *Store) GetApprovalQueue() ([]Offer, error) {
	return s.GetOffersByStatus(OfferAwaitingApproval)
}

// --- Claims ---

// SaveClaim appends a claim row, rejecting a duplicate slot_id (spec §3
// invariant, §8 property 3).
func (s *Store) SaveClaim(c Claim) error {
	c.ClaimedAt = time.Now()
	err := s.db.Create(&c).Error
	if err != nil && isUniqueConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

// --- Pins ---

// SavePin records that the local storage node now pins cid under our
// ownership.
func (s *Store) SavePin(cid string, slotID *uint64, bytesPinned int64) error {
	p := Pin{CID: cid, SlotID: slotID, BytesPinned: bytesPinned, PinnedAt: time.Now()}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Save(&p).Error
	})
}

// IsCIDPinned reports whether a Pin row exists for cid.
func (s *Store) IsCIDPinned(cid string) (bool, error) {
	var count int64
	if err := s.db.Model(&Pin{}).Where("cid = ?", cid).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check pin: %w", err)
	}
	return count > 0, nil
}

// --- Activity ---

// LogActivity appends a human-readable activity row (spec §7).
func (s *Store) LogActivity(eventType string, slotID *uint64, cid string, amount *int64, message string) error {
	entry := ActivityEntry{
		EventType: eventType,
		SlotID:    slotID,
		CID:       cid,
		Amount:    amount,
		Message:   message,
		CreatedAt: time.Now(),
	}
	return s.db.Create(&entry).Error
}

// GetRecentActivity returns up to limit most recent activity rows, newest first.
func (s *Store) GetRecentActivity(limit int) ([]ActivityEntry, error) {
	var entries []ActivityEntry
	if err := s.db.Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}
	return entries, nil
}

// --- Earnings ---

// GetEarnings aggregates claim totals since the optional time window.
func (s *Store) GetEarnings(since *time.Time) (totalAmount int64, claimCount int64, err error) {
	q := s.db.Model(&Claim{})
	if since != nil {
		q = q.Where("claimed_at >= ?", *since)
	}
	row := struct {
		Total int64
		Count int64
	}{}
	if err := q.Select("COALESCE(SUM(amount_earned), 0) as total, COUNT(*) as count").Scan(&row).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate earnings: %w", err)
	}
	return row.Total, row.Count, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
