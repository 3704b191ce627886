package daemonservice

import (
	"log/slog"
	"sync"

	"umbra-chat/go-backend/internal/domains/contracts"
	deliveryapp "umbra-chat/go-backend/internal/domains/delivery"
	handshakeapp "umbra-chat/go-backend/internal/domains/handshake"
	"umbra-chat/go-backend/internal/identity"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/internal/platform/ratelimiter"
	runtimeapp "umbra-chat/go-backend/internal/platform/runtime"
)

type handshakeCore = handshakeapp.Service
type deliveryCore = deliveryapp.Service

// Service is the composition root. The embedded cores carry the protocol
// state machines; everything else is the shared infrastructure they run
// on and the runtime state of the networking lifecycle.
type Service struct {
	identityManager *identity.Manager
	node            contracts.TransportNode
	sessionManager  contracts.SessionDomain
	skippedKeys     contracts.SkippedKeyVault
	messageStore    contracts.MessageRepository
	requestStore    contracts.RequestRepository
	contactStore    contracts.ContactRepository
	ledger          contracts.DedupLedger
	signerCache     contracts.SignerCache
	notifier        *runtimeapp.NotificationHub
	logger          *slog.Logger

	*handshakeCore
	*deliveryCore

	metrics        *runtimeapp.ServiceMetricsState
	runtime        *runtimeapp.ServiceRuntime
	identityState  *identity.StateStore
	startStopMu    *sync.Mutex
	inboundLimiter *ratelimiter.MapLimiter
	inboundCfg     inboundRateConfig

	// retryKick wakes the retry loop ahead of its next tick; the
	// transport state listener fires it on every reachability change.
	retryKick chan struct{}

	onionCfg      onion.Config
	dataDir       string
	storageSecret string
}

type inboundRateConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}
