package ipc

import "github.com/pinnerd/pinnerd/internal/store"

// ApproveOffersRequest/Response implement approve_offers (spec §6).
type ApproveOffersRequest struct {
	SlotIDs []uint64 `json:"slot_ids"`
}

type SlotResult struct {
	SlotID  uint64 `json:"slot_id"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type ApproveOffersResponse struct {
	Results []SlotResult `json:"results"`
}

// RejectOffersRequest/Response implement reject_offers (spec §6).
type RejectOffersRequest struct {
	SlotIDs []uint64 `json:"slot_ids"`
}

type RejectOffersResponse struct {
	Results []SlotResult `json:"results"`
}

// SetModeRequest implements set_mode (spec §6).
type SetModeRequest struct {
	Mode string `json:"mode"` // "auto" | "approve"
}

type SetModeResponse struct {
	Mode string `json:"mode"`
}

// UpdatePolicyRequest implements update_policy (spec §6).
type UpdatePolicyRequest struct {
	MinPrice       *int64 `json:"min_price,omitempty"`
	MaxContentSize *int64 `json:"max_content_size,omitempty"`
}

type UpdatePolicyResponse struct {
	MinPrice       int64 `json:"min_price"`
	MaxContentSize int64 `json:"max_content_size"`
}

// VerifyNowRequest/Response implement verify_now (spec §6).
type VerifyNowRequest struct {
	CID    string `json:"cid,omitempty"`
	Pinner string `json:"pinner,omitempty"`
}

type VerifyNowResponse struct {
	Passed           *bool    `json:"passed"`
	MethodUsed       string   `json:"method_used"`
	MethodsAttempted []string `json:"methods_attempted"`
	DurationMs       int64    `json:"duration_ms"`
}

// FlagNowRequest/Response implement flag_now (spec §6).
type FlagNowRequest struct {
	PinnerAddress string `json:"pinner_address"`
}

type FlagNowResponse struct {
	Submitted      bool   `json:"submitted"`
	AlreadyFlagged bool   `json:"already_flagged"`
	TxHash         string `json:"tx_hash,omitempty"`
}

// DashboardSnapshot is the read-only aggregated view the spec describes
// as "informational for implementers" (spec §6).
type DashboardSnapshot struct {
	Mode            string                  `json:"mode"`
	MinPrice        int64                   `json:"min_price"`
	MaxContentSize  int64                   `json:"max_content_size"`
	Cursor          uint32                  `json:"cursor"`
	ApprovalQueue   []store.Offer           `json:"approval_queue"`
	RecentActivity  []store.ActivityEntry   `json:"recent_activity"`
	TotalEarned     int64                   `json:"total_earned"`
	ClaimCount      int64                   `json:"claim_count"`
	FlagHistory     []store.FlagRecord      `json:"flag_history"`
}

// ErrorResponse is the shared error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
