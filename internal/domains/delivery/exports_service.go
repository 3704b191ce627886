package delivery

import deliveryusecase "umbra-chat/go-backend/internal/domains/delivery/usecase"

type Service = deliveryusecase.Service
type ServiceDeps = deliveryusecase.ServiceDeps

func NewService(deps ServiceDeps) *Service {
	return deliveryusecase.NewService(deps)
}
