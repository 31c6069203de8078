package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

// Session binds one conversation's identity (session/thread/resource ids)
// to the OM pipeline and the state store.
type Session struct {
	st         *store.Store
	pipeline   *om.Pipeline
	SessionID  string
	ThreadID   string
	ResourceID string
	Scope      types.Scope
	ScopeKey   string
}

// New builds a Session over the session identity, binding it to the
// scope's resolved OM configuration.
func New(st *store.Store, pipeline *om.Pipeline, scope types.Scope, sessionID, threadID, resourceID string) *Session {
	scopeKey := types.ScopeKey(scope, sessionIdentity(scope, sessionID, threadID, resourceID))
	return &Session{
		st:         st,
		pipeline:   pipeline,
		SessionID:  sessionID,
		ThreadID:   threadID,
		ResourceID: resourceID,
		Scope:      scope,
		ScopeKey:   scopeKey,
	}
}

func sessionIdentity(scope types.Scope, sessionID, threadID, resourceID string) string {
	switch scope {
	case types.ScopeSession:
		return sessionID
	case types.ScopeResources:
		return resourceID
	default:
		return threadID
	}
}

// Append writes role/text as a new message and runs the on-message OM
// step, returning the resulting plan for callers that need to react to
// an emitted reflection command.
func (s *Session) Append(ctx context.Context, role, text string, readOnly bool) (om.ProcessInputStepPlan, error) {
	msg := types.Message{
		ID:         uuid.NewString(),
		SessionID:  s.SessionID,
		ThreadID:   s.ThreadID,
		ResourceID: s.ResourceID,
		Role:       role,
		Text:       text,
		TokenCount: types.EstimateTextTokens(text),
		CreatedAt:  time.Now().UTC(),
	}
	return s.pipeline.ProcessMessage(ctx, s.Scope, s.ScopeKey, s.SessionID, s.ThreadID, s.ResourceID, msg, om.ProcessMessageOptions{ReadOnly: readOnly})
}

// RecentMessageTexts returns up to limit of the most recent message
// bodies for this session, newest first, for hint-merge and output-plan
// bookkeeping.
func (s *Session) RecentMessageTexts(ctx context.Context, limit int) ([]string, []string, error) {
	msgs, err := s.st.RecentMessages(ctx, s.SessionID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("recent messages: %w", err)
	}
	texts := make([]string, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
		ids[i] = m.ID
	}
	return texts, ids, nil
}

// OmHint returns the current record's active_observations as the raw OM
// hint text, or "" if none is present yet.
func (s *Session) OmHint(ctx context.Context) (string, []string, error) {
	record, err := s.st.GetOmRecordByScopeKey(ctx, s.ScopeKey)
	if err != nil {
		if err == store.ErrNotFound {
			return "", nil, nil
		}
		return "", nil, err
	}
	return record.ActiveObservations, record.LastActivatedMessageIDs, nil
}
