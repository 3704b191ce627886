package contracts

import contractports "umbra-chat/go-backend/internal/domains/contracts/ports"

type CoreAPI = contractports.CoreAPI
type IdentityAPI = contractports.IdentityAPI
type HandshakeAPI = contractports.HandshakeAPI
type MessagingAPI = contractports.MessagingAPI
type NetworkAPI = contractports.NetworkAPI
type DaemonService = contractports.DaemonService
type NotificationEvent = contractports.NotificationEvent
type IdentityDomain = contractports.IdentityDomain
type ContactRepository = contractports.ContactRepository
type CategorizedError = contractports.CategorizedError
