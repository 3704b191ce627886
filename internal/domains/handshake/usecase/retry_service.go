package usecase

import (
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	handshakepolicy "umbra-chat/go-backend/internal/domains/handshake/policy"
)

// RetryDueRequests walks every unfinished request whose retry timer has
// fired and retransmits the cached payload for its phase, byte for byte.
// Handshakes carry no attempt ceiling; they retry until they finish or
// the user cancels.
func (s *Service) RetryDueRequests(now time.Time) int {
	attempted := 0
	for _, row := range s.deps.Requests.DuePending(now) {
		switch handshakepolicy.PlanRequestRetry(row) {
		case handshakepolicy.RetryActionNone:
			continue
		case handshakepolicy.RetryActionAbandon:
			s.failRequest(row.ID, "no cached payload to retransmit")
			continue
		case handshakepolicy.RetryActionResendPhase1:
			if !s.rescheduleRequest(row.ID, now, row.RetryCount) {
				continue
			}
			s.sendPhase1(row)
		case handshakepolicy.RetryActionResendPhase2:
			if !s.rescheduleRequest(row.ID, now, row.RetryCount) {
				continue
			}
			s.sendPhase2(row)
		case handshakepolicy.RetryActionResendPhase3:
			if !s.rescheduleRequest(row.ID, now, row.RetryCount) {
				continue
			}
			s.sendPhase3(row)
			s.finalizeRequest(row, true)
		}
		attempted++
	}
	return attempted
}

func (s *Service) rescheduleRequest(requestID string, now time.Time, retryCount int) bool {
	if _, err := s.deps.Requests.ScheduleRetry(requestID, now, contracts.NextRetryAt(now, retryCount)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return false
	}
	return true
}
