// Package ipc exposes the local mutating surface and read snapshots of
// spec §6 over JSON/HTTP, localhost-only. Grounded on the teacher's
// internal/server.Server (a Service-interface wrapper around a transport
// gateway); here the transport is plain net/http rather than ADNL/RLDP,
// justified by the spec's own "this spec does not prescribe wire format
// beyond JSON request/response" and the small, operator-local surface
// this daemon actually needs.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/hunter"
	"github.com/pinnerd/pinnerd/internal/mode"
	"github.com/pinnerd/pinnerd/internal/store"
)

// SlotChecker is the subset of ledgerclient.Client approve_offers needs
// to re-verify slot activity before committing to approval.
type SlotChecker interface {
	SlotStatus(ctx context.Context, slotID uint64) (active bool, pinsRemaining uint32, err error)
}

// Server is the IPC surface's HTTP handler, the task referred to in spec
// §5 as "the IPC server as a task accepting short-lived request tasks".
type Server struct {
	store   *store.Store
	mode    *mode.Controller
	hunter  *hunter.Hunter
	ledger  SlotChecker
	httpSrv *http.Server
}

// New constructs a Server bound to listenAddr (e.g. "127.0.0.1:8420").
// The process requires this to be reachable on localhost-only binding
// (spec §6).
func New(s *store.Store, m *mode.Controller, h *hunter.Hunter, ledger SlotChecker, listenAddr string) *Server {
	srv := &Server{store: s, mode: m, hunter: h, ledger: ledger}

	mux := http.NewServeMux()
	mux.HandleFunc("/approve_offers", srv.handleApproveOffers)
	mux.HandleFunc("/reject_offers", srv.handleRejectOffers)
	mux.HandleFunc("/set_mode", srv.handleSetMode)
	mux.HandleFunc("/update_policy", srv.handleUpdatePolicy)
	mux.HandleFunc("/verify_now", srv.handleVerifyNow)
	mux.HandleFunc("/flag_now", srv.handleFlagNow)
	mux.HandleFunc("/dashboard", srv.handleDashboard)

	srv.httpSrv = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv
}

// Run starts serving and blocks until ctx is cancelled, then shuts down
// gracefully (spec §5 cancellation discipline).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode ipc response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decodeRequest(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// handleApproveOffers implements approve_offers: only legal for offers in
// awaiting_approval, re-verifies slot activity on-chain before
// transitioning to approved (spec §6).
func (s *Server) handleApproveOffers(w http.ResponseWriter, r *http.Request) {
	var req ApproveOffersRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make([]SlotResult, 0, len(req.SlotIDs))
	for _, slotID := range req.SlotIDs {
		results = append(results, s.approveOne(r.Context(), slotID))
	}
	writeJSON(w, http.StatusOK, ApproveOffersResponse{Results: results})
}

func (s *Server) approveOne(ctx context.Context, slotID uint64) SlotResult {
	offer, err := s.store.GetOffer(slotID)
	if err != nil {
		return SlotResult{SlotID: slotID, Ok: false, Error: err.Error()}
	}
	if offer.Status != store.OfferAwaitingApproval {
		return SlotResult{SlotID: slotID, Ok: false, Error: fmt.Sprintf("offer is in status %q, not awaiting_approval", offer.Status)}
	}

	active, pinsRemaining, err := s.ledger.SlotStatus(ctx, slotID)
	if err != nil {
		return SlotResult{SlotID: slotID, Ok: false, Error: fmt.Sprintf("failed to re-verify slot activity: %v", err)}
	}
	if !active || pinsRemaining == 0 {
		if uerr := s.store.UpdateOfferStatus(slotID, store.OfferExpired, "slot_not_active"); uerr != nil {
			return SlotResult{SlotID: slotID, Ok: false, Error: uerr.Error()}
		}
		return SlotResult{SlotID: slotID, Ok: false, Error: "slot is no longer active"}
	}

	if err := s.store.UpdateOfferStatus(slotID, store.OfferApproved, ""); err != nil {
		return SlotResult{SlotID: slotID, Ok: false, Error: err.Error()}
	}
	return SlotResult{SlotID: slotID, Ok: true}
}

// handleRejectOffers implements reject_offers (spec §6).
func (s *Server) handleRejectOffers(w http.ResponseWriter, r *http.Request) {
	var req RejectOffersRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make([]SlotResult, 0, len(req.SlotIDs))
	for _, slotID := range req.SlotIDs {
		if err := s.store.UpdateOfferStatus(slotID, store.OfferRejected, "operator_rejected"); err != nil {
			results = append(results, SlotResult{SlotID: slotID, Ok: false, Error: err.Error()})
			continue
		}
		results = append(results, SlotResult{SlotID: slotID, Ok: true})
	}
	writeJSON(w, http.StatusOK, RejectOffersResponse{Results: results})
}

// handleSetMode implements set_mode, durable (spec §4.6, §6).
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var newMode store.DaemonMode
	switch req.Mode {
	case "auto":
		newMode = store.ModeAuto
	case "approve":
		newMode = store.ModeApprove
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown mode %q", req.Mode))
		return
	}

	if err := s.mode.SetMode(newMode); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, SetModeResponse{Mode: req.Mode})
}

// handleUpdatePolicy implements update_policy, durable (spec §6).
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := s.store.SetDaemonConfig(nil, req.MinPrice, req.MaxContentSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatePolicyResponse{MinPrice: cfg.MinPrice, MaxContentSize: cfg.MaxContentSize})
}

// handleVerifyNow implements verify_now, triggering an immediate hunter
// check (spec §6).
func (s *Server) handleVerifyNow(w http.ResponseWriter, r *http.Request) {
	var req VerifyNowRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.hunter.VerifyNow(r.Context(), req.CID, req.Pinner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyNowResponse{
		Passed:           result.Passed,
		MethodUsed:       result.MethodUsed,
		MethodsAttempted: result.MethodsAttempted,
		DurationMs:       result.DurationMs,
	})
}

// handleFlagNow implements flag_now, bypassing the failure threshold but
// still honoring has_already_flagged (spec §6).
func (s *Server) handleFlagNow(w http.ResponseWriter, r *http.Request) {
	var req FlagNowRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.hunter.FlagNow(r.Context(), req.PinnerAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, FlagNowResponse{
		Submitted:      result.Submitted,
		AlreadyFlagged: result.AlreadyFlagged,
		TxHash:         result.TxHash,
	})
}

// handleDashboard is a read-only aggregated snapshot (spec §6: "the view
// schema is informational for implementers").
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetDaemonConfig(store.DaemonConfig{Mode: store.ModeAuto})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	cursor, err := s.store.GetCursor()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	approvalQueue, err := s.store.GetApprovalQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	activity, err := s.store.GetRecentActivity(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	totalEarned, claimCount, err := s.store.GetEarnings(nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	flags, err := s.store.GetFlagHistory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardSnapshot{
		Mode:           string(cfg.Mode),
		MinPrice:       cfg.MinPrice,
		MaxContentSize: cfg.MaxContentSize,
		Cursor:         cursor,
		ApprovalQueue:  approvalQueue,
		RecentActivity: activity,
		TotalEarned:    totalEarned,
		ClaimCount:     claimCount,
		FlagHistory:    flags,
	})
}
