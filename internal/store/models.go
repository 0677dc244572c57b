package store

import "time"

// OfferStatus is a closed enumeration of the offer lifecycle states of
// spec §3. The string form exists only at the IPC boundary (see
// internal/ipc); the core never compares against open strings.
type OfferStatus string

const (
	OfferPending           OfferStatus = "pending"
	OfferRejected          OfferStatus = "rejected"
	OfferAwaitingApproval  OfferStatus = "awaiting_approval"
	OfferApproved          OfferStatus = "approved"
	OfferPinning           OfferStatus = "pinning"
	OfferPinned            OfferStatus = "pinned"
	OfferPinFailed         OfferStatus = "pin_failed"
	OfferClaiming          OfferStatus = "claiming"
	OfferClaimed           OfferStatus = "claimed"
	OfferClaimFailed       OfferStatus = "claim_failed"
	OfferExpired           OfferStatus = "expired"
	OfferFilled            OfferStatus = "filled"
)

// terminalOfferStatuses are statuses an offer may never leave, per spec
// §3 invariant (a), with one exception: legalOfferTransitions lets a
// claimed offer move to filled.
var terminalOfferStatuses = map[OfferStatus]bool{
	OfferRejected:    true,
	OfferPinFailed:   true,
	OfferClaimed:     true,
	OfferClaimFailed: true,
	OfferExpired:     true,
	OfferFilled:      true,
}

// IsTerminal reports whether status is a terminal offer state.
func (s OfferStatus) IsTerminal() bool {
	return terminalOfferStatuses[s]
}

// DaemonMode selects routing behavior in the Mode Controller (spec §4.6).
type DaemonMode string

const (
	ModeAuto    DaemonMode = "AUTO"
	ModeApprove DaemonMode = "APPROVE"
)

// TrackedPinStatus is the hunter's tracked-pin lifecycle (spec §3).
type TrackedPinStatus string

const (
	TrackedPinTracking      TrackedPinStatus = "tracking"
	TrackedPinVerified      TrackedPinStatus = "verified"
	TrackedPinSuspect       TrackedPinStatus = "suspect"
	TrackedPinFlagSubmitted TrackedPinStatus = "flag_submitted"
	TrackedPinSlotFreed     TrackedPinStatus = "slot_freed"
)

// Cursor is the singleton ledger-ingestion watermark (spec §3).
type Cursor struct {
	ID             uint  `gorm:"primaryKey"`
	LedgerSequence uint32
	UpdatedAt      time.Time
}

// DaemonConfig is the singleton runtime-mutable policy record (spec §3).
type DaemonConfig struct {
	ID              uint `gorm:"primaryKey"`
	Mode            DaemonMode
	MinPrice        int64
	MaxContentSize  int64
	UpdatedAt       time.Time
}

// Offer is keyed by SlotID, unique across the contract's lifetime.
type Offer struct {
	SlotID             uint64 `gorm:"primaryKey"`
	CID                string `gorm:"index"`
	Filename           string
	Gateway            string
	OfferPrice         int64
	PinQty             uint32
	PinsRemaining      uint32
	Publisher          string
	LedgerSequenceSeen uint32
	Status             OfferStatus `gorm:"index"`
	RejectReason       string
	NetProfit          *int64
	EstimatedExpiry    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Claim is append-only; at most one row per SlotID (spec §3 invariant).
type Claim struct {
	ID           uint   `gorm:"primaryKey"`
	SlotID       uint64 `gorm:"uniqueIndex"`
	CID          string
	AmountEarned int64
	TxHash       string
	ClaimedAt    time.Time
}

// Pin exists iff the local storage node has pinned CID under our ownership.
type Pin struct {
	CID         string `gorm:"primaryKey"`
	SlotID      *uint64
	BytesPinned int64
	PinnedAt    time.Time
}

// ActivityEntry is an append-only human-readable feed row.
type ActivityEntry struct {
	ID        uint `gorm:"primaryKey"`
	EventType string
	SlotID    *uint64
	CID       string
	Amount    *int64
	Message   string
	CreatedAt time.Time
}

// TrackedCID is content we published that we want to audit other pinners on.
type TrackedCID struct {
	CID       string `gorm:"primaryKey"`
	CIDHash   string `gorm:"index"`
	SlotID    uint64
	Publisher string
	Gateway   string
	PinQty    uint32
	CreatedAt time.Time
}

// TrackedPin is a (cid, pinner_address) audit pair (spec §3).
type TrackedPin struct {
	CID                 string `gorm:"primaryKey;index:idx_cid_pinner,unique"`
	Pinner              string `gorm:"primaryKey;index:idx_cid_pinner,unique"`
	PinnerNodeID        string
	PinnerMultiaddr     string
	SlotID              uint64
	ClaimedAt           time.Time
	LastVerifiedAt      *time.Time
	LastCheckedAt       *time.Time
	ConsecutiveFailures int
	TotalChecks         int
	TotalFailures       int
	Status              TrackedPinStatus `gorm:"index"`
	FlaggedAt           *time.Time
	FlagTxHash          string
}

// VerificationLogEntry records the outcome of each individual check.
type VerificationLogEntry struct {
	ID                uint `gorm:"primaryKey"`
	CID               string
	Pinner            string
	Passed            *bool
	MethodUsed        string
	MethodsAttempted  string // JSON-encoded []string
	DurationMs        int64
	CheckedAt         time.Time
}

// VerificationCycle is an append-only per-cycle summary.
type VerificationCycle struct {
	ID           uint `gorm:"primaryKey"`
	StartedAt    time.Time
	CompletedAt  time.Time
	TotalChecked int
	Passed       int
	Failed       int
	Flagged      int
	Skipped      int
	Errors       int
	DurationMs   int64
}

// FlagRecord is append-only; at most one non-failed row per pinner
// (spec §3 invariant, enforced here and by the contract).
type FlagRecord struct {
	ID              uint   `gorm:"primaryKey"`
	PinnerAddress   string `gorm:"uniqueIndex"`
	TxHash          string
	FlagCountAfter  *int
	BountyEarned    *int64
	SubmittedAt     time.Time
}

// PinnerCacheEntry is a TTL-governed read-through cache row.
type PinnerCacheEntry struct {
	Address   string `gorm:"primaryKey"`
	NodeID    string
	Multiaddr string
	Active    bool
	CachedAt  time.Time
}
