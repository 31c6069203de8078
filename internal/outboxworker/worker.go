// Package outboxworker runs the at-least-once outbox replay loop: it
// polls new outbox rows, dispatches them to the Observer or Reflector by
// event_type, and translates OM inference failures into retry/backoff or
// dead-letter decisions.
package outboxworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

const (
	backoffBase                = 2 * time.Second
	backoffCap                 = 5 * time.Minute
	deadLetterAttemptThreshold = 8
	dispatchPoolSize           = 8
)

type reflectionPayload struct {
	ScopeKey           string `json:"scope_key"`
	ExpectedGeneration uint32 `json:"expected_generation"`
	RequestedAt        string `json:"requested_at_rfc3339"`
}

type observePayload struct {
	ScopeKey           string `json:"scope_key"`
	ExpectedGeneration uint32 `json:"expected_generation"`
}

// Worker is the background outbox replay loop.
type Worker struct {
	st        *store.Store
	observer  *om.Observer
	reflector *om.Reflector
	log       logging.Logger
	interval  time.Duration
	batchSize int

	targetTokens func() int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New builds a Worker. targetTokens supplies the reflection compression
// target at dispatch time (the resolved reflection.observation_tokens for
// the scope being reflected).
func New(st *store.Store, observer *om.Observer, reflector *om.Reflector, log logging.Logger, interval time.Duration, batchSize int, targetTokens func() int) *Worker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		st:           st,
		observer:     observer,
		reflector:    reflector,
		log:          log,
		interval:     interval,
		batchSize:    batchSize,
		targetTokens: targetTokens,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background replay goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.runLoop(ctx)
}

// Stop signals the replay loop to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.running = false
}

func (w *Worker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce fetches and dispatches one batch of new outbox rows. Run calls
// it on every tick; it is exported for tests.
func (w *Worker) RunOnce(ctx context.Context) {
	rows, err := w.st.FetchOutbox(ctx, types.OutboxNew, w.batchSize)
	if err != nil {
		w.log.Error("fetch outbox", err, nil)
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dispatchPoolSize)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			w.dispatch(gctx, row)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) dispatch(ctx context.Context, row types.OutboxEvent) {
	var err error
	switch row.EventType {
	case types.EventObserveBufferRequested:
		err = w.runObserver(ctx, row)
	case types.EventReflectBufferRequested:
		err = w.runReflectBuffer(ctx, row)
	case types.EventReflectRequested:
		err = w.runReflectApply(ctx, row)
	default:
		w.markDone(ctx, row)
		return
	}

	if err == nil {
		w.markDone(ctx, row)
		return
	}
	w.handleFailure(ctx, row, err)
}

func (w *Worker) runObserver(ctx context.Context, row types.OutboxEvent) error {
	var payload observePayload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
		return &om.InferenceError{Source: om.SourceObserver, Kind: om.FailureSchema, Err: err}
	}
	record, err := w.st.GetOmRecordByScopeKey(ctx, payload.ScopeKey)
	if err != nil {
		return err
	}
	candidates, err := w.st.UnobservedMessagesForRecord(ctx, record, true)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	if _, err := w.observer.Run(ctx, record, candidates, row.ID); err != nil {
		return err
	}
	if record.Scope == types.ScopeSession {
		return nil
	}
	return w.advanceThreadCursors(ctx, record.ScopeKey, candidates)
}

// advanceThreadCursors records, per thread, the timestamp of the latest
// candidate message just observed. Only non-session scopes use these
// cursors (see store.UnobservedMessagesForRecord); session-scoped records
// track their cursor on the record itself.
func (w *Worker) advanceThreadCursors(ctx context.Context, scopeKey string, candidates []types.Message) error {
	latest := make(map[string]time.Time)
	for _, m := range candidates {
		if m.ThreadID == "" {
			continue
		}
		if cur, ok := latest[m.ThreadID]; !ok || m.CreatedAt.After(cur) {
			latest[m.ThreadID] = m.CreatedAt
		}
	}
	for threadID, ts := range latest {
		if err := w.st.UpsertOmThreadState(ctx, types.OmThreadState{
			ScopeKey:       scopeKey,
			ThreadID:       threadID,
			LastObservedAt: ts,
			UpdatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runReflectBuffer(ctx context.Context, row types.OutboxEvent) error {
	var payload reflectionPayload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
		return &om.InferenceError{Source: om.SourceReflector, Kind: om.FailureSchema, Err: err}
	}
	record, err := w.st.GetOmRecordByScopeKey(ctx, payload.ScopeKey)
	if err != nil {
		return err
	}
	_, err = w.reflector.Buffer(ctx, record, w.targetTokens())
	return err
}

func (w *Worker) runReflectApply(ctx context.Context, row types.OutboxEvent) error {
	var payload reflectionPayload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
		return &om.InferenceError{Source: om.SourceReflector, Kind: om.FailureSchema, Err: err}
	}
	record, err := w.st.GetOmRecordByScopeKey(ctx, payload.ScopeKey)
	if err != nil {
		return err
	}
	outcome, err := w.reflector.Apply(ctx, record, row.ID, w.targetTokens())
	if err != nil {
		return err
	}
	if outcome == store.StaleGeneration {
		return &om.InferenceError{Source: om.SourceReflector, Kind: om.FailureTransient, Err: errors.New("stale generation")}
	}
	return nil
}

func (w *Worker) markDone(ctx context.Context, row types.OutboxEvent) {
	if err := w.st.MarkOutboxStatus(ctx, row.ID, types.OutboxDone, false); err != nil {
		w.log.Error("mark outbox done", err, map[string]any{"id": row.ID})
	}
}

// handleFailure classifies err and either requeues with exponential
// backoff (Transient) or dead-letters immediately (Schema/Fatal), per
// spec 7's propagation policy. A Transient failure that has exceeded the
// dead-letter attempt threshold is also dead-lettered, clearing the
// record's in-flight reflection flags so it stops showing "reflecting".
func (w *Worker) handleFailure(ctx context.Context, row types.OutboxEvent, err error) {
	var infErr *om.InferenceError
	kind := om.FailureFatal
	if errors.As(err, &infErr) {
		kind = infErr.Kind
	}

	if kind == om.FailureTransient && row.AttemptCount < deadLetterAttemptThreshold {
		delay := backoffDelay(row.AttemptCount)
		if bumpErr := w.st.MarkOutboxStatus(ctx, row.ID, types.OutboxNew, true); bumpErr != nil {
			w.log.Error("bump outbox attempt", bumpErr, map[string]any{"id": row.ID})
		}
		if rqErr := w.st.RequeueOutboxWithDelay(ctx, row.ID, delay); rqErr != nil {
			w.log.Error("requeue outbox", rqErr, map[string]any{"id": row.ID})
		}
		return
	}

	if markErr := w.st.MarkOutboxStatus(ctx, row.ID, types.OutboxDeadLetter, true); markErr != nil {
		w.log.Error("mark dead letter", markErr, map[string]any{"id": row.ID})
	}
	w.clearReflectionFlagsIfApplicable(ctx, row)
}

func (w *Worker) clearReflectionFlagsIfApplicable(ctx context.Context, row types.OutboxEvent) {
	if row.EventType != types.EventReflectBufferRequested && row.EventType != types.EventReflectRequested {
		return
	}
	var payload reflectionPayload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
		return
	}
	record, err := w.st.GetOmRecordByScopeKey(ctx, payload.ScopeKey)
	if err != nil {
		return
	}
	if err := w.st.ClearOmReflectionFlagsWithCAS(ctx, payload.ScopeKey, record.GenerationCount); err != nil {
		w.log.Error("clear reflection flags on dead-letter", err, map[string]any{"scope_key": payload.ScopeKey})
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := backoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}
