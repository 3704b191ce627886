package usecase

import (
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/pkg/models"
)

// RetryDueMessages walks every message row whose retry timer has fired
// and retransmits the cached frame for its current stage, byte for byte.
// A row that crosses the attempt ceiling is parked as undelivered and
// stays listed for a manual retry.
func (s *Service) RetryDueMessages(now time.Time) int {
	attempted := 0
	for _, row := range s.deps.Messages.DuePending(now) {
		if s.retryRow(row, now) {
			attempted++
		}
	}
	return attempted
}

// retryRow re-reads the row under the conversation lock so concurrent
// scheduler passes and manual retries collapse onto one attempt.
func (s *Service) retryRow(stale models.Message, now time.Time) bool {
	unlock := s.locks.acquire(s.conversationWith(stale.ContactID))
	defer unlock()

	row, ok := s.deps.Messages.Get(stale.ID)
	if !ok {
		return false
	}
	if row.NextRetryAt.IsZero() || row.NextRetryAt.After(now) {
		return false
	}
	switch PlanRetry(row, contracts.DeliveryAttemptCeiling) {
	case deliverypolicy.RetryActionNone:
		return false
	case deliverypolicy.RetryActionPark:
		s.parkUndelivered(row.ID)
		return false
	case deliverypolicy.RetryActionResendPing:
		if !s.rescheduleMessage(row.ID, now, row.RetryCount) {
			return false
		}
		s.refreshSigner(row.PingID, row.ContactID)
		s.sendPing(row)
	case deliverypolicy.RetryActionResendPayload:
		if !s.rescheduleMessage(row.ID, now, row.RetryCount) {
			return false
		}
		s.sendPayload(row)
	case deliverypolicy.RetryActionResendPong:
		if !s.rescheduleMessage(row.ID, now, row.RetryCount) {
			return false
		}
		s.refreshSigner(row.PingID, row.ContactID)
		s.sendPong(row)
	case deliverypolicy.RetryActionResendTap:
		if !s.rescheduleMessage(row.ID, now, row.RetryCount) {
			return false
		}
		s.refreshSigner(row.TapID, row.ContactID)
		s.sendTap(row)
	}
	return true
}

func (s *Service) rescheduleMessage(messageID string, now time.Time, retryCount int) bool {
	if _, err := s.deps.Messages.ScheduleRetry(messageID, now, contracts.NextRetryAt(now, retryCount)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return false
	}
	return true
}

func (s *Service) parkUndelivered(messageID string) {
	row, err := s.deps.Messages.MarkUndelivered(messageID)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	s.notify("notify.message.undelivered", map[string]any{
		"message_id":  row.ID,
		"contact_id":  row.ContactID,
		"retry_count": row.RetryCount,
	})
}
