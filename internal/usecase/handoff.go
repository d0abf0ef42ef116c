package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"minwondesk/internal/domain"
	"minwondesk/internal/observability/metrics"
	"minwondesk/internal/ports"
)

type complaintHandoff struct {
	store   ports.ComplaintStore
	events  ports.EventSink
	metrics *metrics.DialogueMetrics
	logger  *zap.Logger
	timeout time.Duration
}

func newComplaintHandoff(
	store ports.ComplaintStore,
	events ports.EventSink,
	m *metrics.DialogueMetrics,
	logger *zap.Logger,
	timeout time.Duration,
) complaintHandoff {
	return complaintHandoff{store: store, events: events, metrics: m, logger: logger, timeout: timeout}
}

// Submit hands the finished record to the store. A failed submission is reported
// and logged but never blocks the dialogue from completing.
func (h complaintHandoff) Submit(ctx context.Context, sessionID string, record domain.ConversationRecord, chat []domain.ChatLog) (domain.Complaint, error) {
	complaint := buildComplaint(uuid.NewString(), record, chat)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	started := time.Now()
	err := h.store.Submit(ctx, complaint)
	h.metrics.ObserveHandoff(err, complaint.RequiresVisit, time.Since(started))
	if err != nil {
		h.logger.Error("complaint submission failed",
			zap.String("session_id", sessionID),
			zap.String("agency", complaint.Agency),
			zap.Error(err),
		)
		h.events.SessionError(domain.ErrorCodeStoreSubmit, "failed to submit complaint: "+err.Error())
		h.metrics.ObserveSessionError(string(domain.ErrorCodeStoreSubmit))
		return complaint, err
	}

	h.logger.Info("complaint handed off",
		zap.String("session_id", sessionID),
		zap.String("complaint_id", complaint.ID),
		zap.String("category", complaint.TopicCategory),
		zap.String("agency", complaint.Agency),
		zap.Bool("requires_visit", complaint.RequiresVisit),
		zap.Bool("print_requested", complaint.PrintRequested),
	)
	return complaint, nil
}

func buildComplaint(id string, record domain.ConversationRecord, chat []domain.ChatLog) domain.Complaint {
	return domain.Complaint{
		ID:             id,
		GroupType:      record.GroupType,
		TopicCategory:  record.TopicCategory,
		Agency:         record.Agency,
		Summary:        record.Summary,
		FullText:       record.FullText(),
		RequiresVisit:  record.RequiresVisit,
		Guidance:       record.GuidanceText,
		PrintRequested: record.PrintRequested,
		Status:         domain.StatusReceived,
		ChatLogs:       append([]domain.ChatLog(nil), chat...),
	}
}
