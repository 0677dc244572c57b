// Package executor runs the fetch-then-add-then-pin pipeline of spec
// §4.4. The publisher's content lives on a private swarm the local
// storage node cannot discover by peer routing alone, so content must be
// injected locally before it can be pinned and later served to auditors.
// Grounded on the teacher's internal/service/worker.go step sequence
// (fetch → verify → act, each step wrapped in the same retry helper).
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/retry"
	"github.com/pinnerd/pinnerd/pkg/gateway"
	"github.com/pinnerd/pinnerd/pkg/kubo"
)

// ErrCIDMismatch is fatal and non-retryable (spec §4.4 step 2): the
// fetched bytes did not hash to the offered content id.
var ErrCIDMismatch = fmt.Errorf("cid_mismatch")

// PinResult is the outcome of one pipeline run.
type PinResult struct {
	Success     bool
	CID         string
	BytesPinned int64
	Error       error
	DurationMs  int64
}

// Executor drives fetch -> add -> pin for one offer at a time.
type Executor struct {
	gateway        *gateway.Client
	kubo           *kubo.Client
	retryPolicy    retry.Policy
	fetchTimeout   time.Duration
	addTimeout     time.Duration
	pinTimeout     time.Duration
}

// Config bundles the per-step timeouts the daemon's config.Config carries.
type Config struct {
	FetchTimeout time.Duration
	AddTimeout   time.Duration
	PinTimeout   time.Duration
}

// New constructs an Executor.
func New(gw *gateway.Client, k *kubo.Client, cfg Config) *Executor {
	return &Executor{
		gateway:      gw,
		kubo:         k,
		retryPolicy:  retry.DefaultPolicy(),
		fetchTimeout: cfg.FetchTimeout,
		addTimeout:   cfg.AddTimeout,
		pinTimeout:   cfg.PinTimeout,
	}
}

// Pin runs the three-step pipeline for one offer (spec §4.4).
func (e *Executor) Pin(ctx context.Context, cid, filename, gatewayURL string, maxContentSize int64) PinResult {
	start := time.Now()
	res := PinResult{CID: cid}

	content, err := e.fetch(ctx, gatewayURL, cid, maxContentSize)
	if err != nil {
		res.Error = err
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	addedHash, err := e.add(ctx, cid, filename, content)
	if err != nil {
		res.Error = err
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}
	if addedHash != cid {
		log.Error().Str("cid", cid).Str("added_hash", addedHash).Msg("add produced a different hash than the offered cid")
		res.Error = ErrCIDMismatch
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	if err := e.pin(ctx, cid); err != nil {
		res.Error = err
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	res.Success = true
	res.BytesPinned = int64(len(content))
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (e *Executor) fetch(ctx context.Context, gatewayURL, cid string, maxContentSize int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	var content []byte
	err := retry.Do(ctx, e.retryPolicy, func() error {
		c, err := e.gateway.Fetch(ctx, gatewayURL, cid, maxContentSize)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return content, nil
}

func (e *Executor) add(ctx context.Context, cid, filename string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.addTimeout)
	defer cancel()

	if filename == "" {
		filename = cid
	}

	var addedHash string
	err := retry.Do(ctx, e.retryPolicy, func() error {
		res, err := e.kubo.Add(ctx, filename, content)
		if err != nil {
			return err
		}
		addedHash = res.Hash
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("add failed: %w", err)
	}
	return addedHash, nil
}

func (e *Executor) pin(ctx context.Context, cid string) error {
	ctx, cancel := context.WithTimeout(ctx, e.pinTimeout)
	defer cancel()

	err := retry.Do(ctx, e.retryPolicy, func() error {
		if _, err := e.kubo.PinAdd(ctx, cid); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pin failed: %w", err)
	}

	confirmed, err := e.kubo.PinLs(ctx, cid)
	if err != nil {
		return fmt.Errorf("failed to confirm pin: %w", err)
	}
	if !confirmed {
		return fmt.Errorf("pin/ls did not confirm %s as pinned", cid)
	}
	return nil
}

// VerifyPinned reports whether cid is currently in the local pinned set.
func (e *Executor) VerifyPinned(ctx context.Context, cid string) (bool, error) {
	return e.kubo.PinLs(ctx, cid)
}

// Unpin removes cid from the local pinned set, used for UNPIN events only
// when configured (default keep, spec §4.4).
func (e *Executor) Unpin(ctx context.Context, cid string) error {
	_, err := e.kubo.PinRm(ctx, cid)
	if err != nil {
		return fmt.Errorf("failed to unpin: %w", err)
	}
	return nil
}
