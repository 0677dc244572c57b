package hunter

import (
	"context"
	"time"
)

// MethodDHTProvider, MethodBitswap, MethodRetrieval are the three
// verification tiers of spec §4.8.2, cheapest to most definitive.
const (
	MethodDHTProvider = "dht_provider"
	MethodBitswap     = "bitswap"
	MethodRetrieval   = "retrieval"
)

// VerificationResult is the outcome of one verify() call (spec §4.8.2).
type VerificationResult struct {
	Passed           *bool
	MethodUsed       string
	MethodsAttempted []string
	DurationMs       int64
}

// Verifier runs the three-tier possession check against our own storage
// node, probing a remote pinner's node id and multiaddr.
type Verifier struct {
	kubo             kuboClient
	checkTimeout     time.Duration
	retrievalEnabled bool
}

// NewVerifier constructs a Verifier against our local storage node.
func NewVerifier(k kuboClient, checkTimeout time.Duration, retrievalEnabled bool) *Verifier {
	return &Verifier{kubo: k, checkTimeout: checkTimeout, retrievalEnabled: retrievalEnabled}
}

// Verify runs the dht_provider, bitswap, and (if enabled and bitswap did
// not pass) retrieval checks against one (cid, nodeID, multiaddr) pair. bitswap is always
// attempted regardless of the dht_provider outcome, because DHT presence
// does not prove current possession (spec §4.8.2).
func (v *Verifier) Verify(ctx context.Context, cid, nodeID, multiaddr string) VerificationResult {
	start := time.Now()
	res := VerificationResult{}

	ctx, cancel := context.WithTimeout(ctx, v.checkTimeout)
	defer cancel()

	// dht_provider presence is recorded in methods_attempted only; it is
	// never definitive on its own (spec §4.8.2), so its outcome does not
	// feed into overallPassed below.
	v.checkDHTProvider(ctx, cid, nodeID)
	res.MethodsAttempted = append(res.MethodsAttempted, MethodDHTProvider)

	bitswapPassed, bitswapErr := v.checkBitswap(ctx, cid, multiaddr)
	res.MethodsAttempted = append(res.MethodsAttempted, MethodBitswap)

	var overallPassed *bool
	if bitswapErr == nil {
		overallPassed = &bitswapPassed
		res.MethodUsed = MethodBitswap
	}

	if (overallPassed == nil || !*overallPassed) && v.retrievalEnabled {
		retrievalPassed, retrievalErr := v.checkRetrieval(ctx, cid)
		res.MethodsAttempted = append(res.MethodsAttempted, MethodRetrieval)
		if retrievalErr == nil {
			overallPassed = &retrievalPassed
			res.MethodUsed = MethodRetrieval
		}
	}

	res.Passed = overallPassed
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (v *Verifier) checkDHTProvider(ctx context.Context, cid, nodeID string) (bool, error) {
	providers, err := v.kubo.FindProvs(ctx, cid, 20)
	if err != nil {
		return false, err
	}
	for _, p := range providers {
		if p == nodeID {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) checkBitswap(ctx context.Context, cid, multiaddr string) (bool, error) {
	if multiaddr != "" {
		if err := v.kubo.SwarmConnect(ctx, multiaddr); err != nil {
			return false, err
		}
	}
	block, err := v.kubo.BlockGet(ctx, cid)
	if err != nil {
		return false, err
	}
	return len(block) > 0, nil
}

func (v *Verifier) checkRetrieval(ctx context.Context, cid string) (bool, error) {
	content, err := v.kubo.Cat(ctx, cid)
	if err != nil {
		return false, err
	}
	return len(content) > 0, nil
}
