package daemonservice

import (
	"strings"

	"umbra-chat/go-backend/internal/onion"
)

const daemonComponentName = "daemonservice"

func frameCorrelationID(frame onion.Frame) string {
	switch {
	case frame.RequestID != "":
		return frame.RequestID
	case frame.ConversationID != "":
		return frame.ConversationID
	default:
		return "n/a"
	}
}

func (s *Service) logInfo(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", daemonComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	s.logger.Info(message, append(base, attrs...)...)
}

func (s *Service) logWarn(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", daemonComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	s.logger.Warn(message, append(base, attrs...)...)
}

func (s *Service) recordErrorWithContext(category string, err error, operation, correlationID string, attrs ...any) {
	if err == nil {
		return
	}
	s.metrics.RecordError(category)
	base := []any{
		"component", daemonComponentName,
		"operation", strings.TrimSpace(operation),
		"category", strings.TrimSpace(category),
		"correlation_id", strings.TrimSpace(correlationID),
		"error", err.Error(),
	}
	s.logger.Error("service error", append(base, attrs...)...)
}
