package handshake

import handshakeusecase "umbra-chat/go-backend/internal/domains/handshake/usecase"

type Service = handshakeusecase.Service
type ServiceDeps = handshakeusecase.ServiceDeps

func NewService(deps ServiceDeps) *Service {
	return handshakeusecase.NewService(deps)
}
