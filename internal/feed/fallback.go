package feed

import (
	"context"
	"log"

	"storyfeed/internal/merge"
)

// The fallback chain. Each strategy is attempted once per failure event and
// a strategy's own failure falls through to the next; nothing here retries
// indefinitely. Aborted and timed-out calls arrive here like any other
// recoverable failure.

// fallbackUnfiltered recovers from a failed unfiltered load:
//  1. no filters active → adopt the legacy feed as baseline;
//  2. non-empty existing baseline → keep presenting it, pagination off;
//  3. exhausted → surface the original error as a retryable failure.
func (e *Engine) fallbackUnfiltered(ctx context.Context, cause error) error {
	e.mu.Lock()
	filtersActive := e.sel.Active()
	baselineLen := e.baseline.Len()
	topic := e.topic.Slug
	pageSize := e.opts.PageSize
	e.mu.Unlock()

	log.Printf("Warning: unfiltered load for topic '%s' failed: %v, entering fallback chain", topic, cause)

	if !filtersActive {
		rows, err := e.source.FetchLegacyPage(ctx, topic, pageSize, 0)
		if err == nil && len(rows) > 0 {
			items := merge.GroupRows(rows)
			e.mu.Lock()
			e.baseline.Replace(items)
			e.offset = len(rows)
			e.hasMore = len(rows) == pageSize
			e.legacyMode = true
			e.degraded = false
			e.lastErr = nil
			e.mu.Unlock()
			e.cache.InvalidateFeedView(topic)
			log.Printf("Adopted legacy feed as baseline for topic '%s': %d stories", topic, len(items))
			return nil
		}
		if err != nil {
			log.Printf("Warning: legacy feed fallback for topic '%s' failed: %v", topic, err)
		}
	}

	if baselineLen > 0 {
		e.mu.Lock()
		if e.sel.Active() {
			e.refilterLocked()
		}
		e.degraded = true
		e.lastErr = nil
		e.mu.Unlock()
		e.cache.InvalidateFeedView(topic)
		log.Printf("Presenting existing baseline for topic '%s' with pagination disabled", topic)
		return nil
	}

	e.mu.Lock()
	e.lastErr = errExhausted(cause)
	e.mu.Unlock()
	return e.LastError()
}

// fallbackFiltered recovers from a failed remote filtered query:
//  1. non-empty baseline → apply the local predicate to it, pagination off;
//  2. filtered cold start (empty baseline) → fetch a legacy baseline without
//     displaying it raw, then apply the local predicate to it;
//  3. exhausted → surface the original error.
//
// The filter state is never marked server-confirmed on this path.
func (e *Engine) fallbackFiltered(ctx context.Context, cause error, expected int64) error {
	e.mu.Lock()
	if e.token != expected {
		e.mu.Unlock()
		return nil
	}
	baselineLen := e.baseline.Len()
	topic := e.topic.Slug
	pageSize := e.opts.PageSize
	e.mu.Unlock()

	log.Printf("Warning: filtered query for topic '%s' failed: %v, entering fallback chain", topic, cause)

	if baselineLen > 0 {
		e.mu.Lock()
		if e.token == expected {
			e.refilterLocked()
			e.degraded = true
			e.lastErr = nil
		}
		e.mu.Unlock()
		e.cache.InvalidateFeedView(topic)
		return nil
	}

	// Filtered cold start: no baseline to filter locally, so fetch one via
	// the legacy query. Its raw result is not displayed; only the locally
	// filtered subset becomes visible.
	rows, err := e.source.FetchLegacyPage(ctx, topic, pageSize, 0)
	if err == nil && len(rows) > 0 {
		items := merge.GroupRows(rows)
		e.mu.Lock()
		if e.token == expected {
			e.baseline.Replace(items)
			e.offset = len(rows)
			e.legacyMode = true
			e.refilterLocked()
			e.degraded = true
			e.lastErr = nil
		}
		e.mu.Unlock()
		e.cache.InvalidateFeedView(topic)
		return nil
	}
	if err != nil {
		log.Printf("Warning: legacy cold-start fallback for topic '%s' failed: %v", topic, err)
	}

	e.mu.Lock()
	e.lastErr = errExhausted(cause)
	e.mu.Unlock()
	return e.LastError()
}
