package daemonservice

import (
	deliveryapp "umbra-chat/go-backend/internal/domains/delivery"
	handshakeapp "umbra-chat/go-backend/internal/domains/handshake"
	"umbra-chat/go-backend/internal/onion"
	runtimeapp "umbra-chat/go-backend/internal/platform/runtime"
)

func buildHandshakeDeps(svc *Service) handshakeapp.ServiceDeps {
	return handshakeapp.ServiceDeps{
		Identity:       svc.identityManager,
		Sessions:       svc.sessionManager,
		Requests:       svc.requestStore,
		Contacts:       svc.contactStore,
		GenerateID:     runtimeapp.GeneratePrefixedID,
		Now:            nowUTC,
		SendFrame:      svc.sendFrame,
		TrackOperation: svc.trackOperation,
		Notify:         svc.notify,
		RecordError:    svc.recordError,
	}
}

func buildDeliveryDeps(svc *Service) deliveryapp.ServiceDeps {
	return deliveryapp.ServiceDeps{
		Identity:       svc.identityManager,
		Sessions:       svc.sessionManager,
		Messages:       svc.messageStore,
		Contacts:       svc.contactStore,
		Ledger:         svc.ledger,
		Signers:        svc.signerCache,
		GenerateID:     runtimeapp.GeneratePrefixedID,
		Now:            nowUTC,
		SendFrame:      svc.sendFrame,
		TrackOperation: svc.trackOperation,
		Notify:         svc.notify,
		RecordError:    svc.recordError,
	}
}

// sendFrame is the single egress point both cores share. It refuses to
// send while networking is down; the row stays scheduled and the retry
// loop picks it up once the transport is back.
func (s *Service) sendFrame(frame onion.Frame) error {
	ctx, err := s.networkContext()
	if err != nil {
		return err
	}
	return s.sendFrameWithTimeout(ctx, frame)
}
