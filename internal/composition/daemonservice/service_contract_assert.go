package daemonservice

import "umbra-chat/go-backend/internal/domains/contracts"

var _ contracts.IdentityAPI = (*Service)(nil)
var _ contracts.HandshakeAPI = (*Service)(nil)
var _ contracts.MessagingAPI = (*Service)(nil)
var _ contracts.NetworkAPI = (*Service)(nil)
var _ contracts.DaemonService = (*Service)(nil)
