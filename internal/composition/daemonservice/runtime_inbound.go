package daemonservice

import (
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/internal/onion"
)

// handleInboundFrame routes one frame to the state machine that owns its
// kind. The handlers are idempotent and never return errors upward; a
// frame that fails to parse or verify is dropped and, where the protocol
// calls for it, answered by a retransmission from the peer.
func (s *Service) handleInboundFrame(frame onion.Frame) {
	if s.inboundLimiter != nil && !s.inboundLimiter.Allow(inboundRateKey(frame), time.Now()) {
		s.metrics.RecordError(contracts.ErrorCategoryNetwork)
		s.logWarn("inbound.rate_limited", frameCorrelationID(frame), "inbound frame dropped by rate limiter", "kind", frame.Kind)
		return
	}

	switch frame.Kind {
	case contracts.FrameKindPhase1:
		if frame.Service != onion.ServiceIntro {
			s.dropFrame(frame, "phase 1 outside the introduction service")
			return
		}
		s.handshakeCore.HandlePhase1(frame.RequestID, frame.Payload)
	case contracts.FrameKindPhase2:
		s.handshakeCore.HandlePhase2(frame.RequestID, frame.Payload)
	case contracts.FrameKindPhase3:
		s.handshakeCore.HandlePhase3(frame.RequestID, frame.Payload)
	case contracts.FrameKindPing:
		s.deliveryCore.HandlePing(frame.ConversationID, frame.Payload)
	case contracts.FrameKindPong:
		s.deliveryCore.HandlePong(frame.ConversationID, frame.Payload)
	case contracts.FrameKindMsg:
		s.deliveryCore.HandleMsg(frame.ConversationID, frame.Payload)
	case contracts.FrameKindAck:
		s.deliveryCore.HandleAck(frame.ConversationID, frame.Payload)
	case contracts.FrameKindTap:
		s.deliveryCore.HandleTap(frame.ConversationID, frame.Payload)
	case contracts.FrameKindTapAck:
		s.deliveryCore.HandleTapAck(frame.ConversationID, frame.Payload)
	default:
		s.dropFrame(frame, "unknown frame kind")
	}
}

func (s *Service) dropFrame(frame onion.Frame, reason string) {
	s.logWarn("inbound.dropped", frameCorrelationID(frame), reason, "kind", frame.Kind, "service", frame.Service)
}

// inboundRateKey buckets frames by the finest sender handle available.
// Phase-1 frames arrive from strangers and only carry the request they
// open, so those bucket per request; everything else buckets per
// conversation, which one peer owns.
func inboundRateKey(frame onion.Frame) string {
	if frame.ConversationID != "" {
		return "conv:" + frame.ConversationID
	}
	if frame.RequestID != "" {
		return "req:" + frame.RequestID
	}
	return "kind:" + frame.Kind
}
