// Package util provides shared utility functions.
package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation counter.
var Stats = &stats{}

type stats struct {
	OffersSent        atomic.Int64 // local offers broadcast (including ICE restarts)
	AnswersSent       atomic.Int64 // answers sent back to an offerer
	CandidatesApplied atomic.Int64 // remote ICE candidates handed to the connection
	CandidatesQueued  atomic.Int64 // remote ICE candidates buffered before a remote description
	Glares            atomic.Int64 // offer collisions observed
	Errors            atomic.Int64 // errors surfaced to the manager
}

func (s *stats) AddOffer()            { s.OffersSent.Add(1) }
func (s *stats) AddAnswer()           { s.AnswersSent.Add(1) }
func (s *stats) AddCandidateApplied() { s.CandidatesApplied.Add(1) }
func (s *stats) AddCandidateQueued()  { s.CandidatesQueued.Add(1) }
func (s *stats) AddGlare()            { s.Glares.Add(1) }
func (s *stats) AddError()            { s.Errors.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	offers, answers, applied, queued, glares, errors int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		offers:  s.OffersSent.Load(),
		answers: s.AnswersSent.Load(),
		applied: s.CandidatesApplied.Load(),
		queued:  s.CandidatesQueued.Load(),
		glares:  s.Glares.Load(),
		errors:  s.Errors.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs negotiation statistics
// every interval, but only when something changed. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev)))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		offers:  s.offers - o.offers,
		answers: s.answers - o.answers,
		applied: s.applied - o.applied,
		queued:  s.queued - o.queued,
		glares:  s.glares - o.glares,
		errors:  s.errors - o.errors,
	}
}

// formatStats returns a fixed-width line describing the counter deltas of one
// reporting window.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Offer: %2d↑ Answer: %2d↑ | ICE: %3d applied %3d queued | Glare: %2d | Err: %2d",
		d.offers,
		d.answers,
		d.applied,
		d.queued,
		d.glares,
		d.errors,
	)
}
