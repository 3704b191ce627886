package daemonservice

import (
	"log/slog"
	"sync"
	"time"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	deliveryapp "umbra-chat/go-backend/internal/domains/delivery"
	handshakeapp "umbra-chat/go-backend/internal/domains/handshake"
	"umbra-chat/go-backend/internal/identity"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/internal/platform/privacylog"
	"umbra-chat/go-backend/internal/platform/ratelimiter"
	runtimeapp "umbra-chat/go-backend/internal/platform/runtime"
	"umbra-chat/go-backend/internal/storage"
)

const inboundLimiterIdleTTL = 10 * time.Minute

func newServiceWithOptions(onionCfg onion.Config, opts contracts.ServiceOptions) (*Service, error) {
	opts, err := ensureServiceOptions(opts)
	if err != nil {
		return nil, err
	}

	manager, err := identity.NewManager()
	if err != nil {
		return nil, err
	}

	inboundCfg := resolveInboundRateConfig()
	svc := &Service{
		identityManager: manager,
		node:            onion.NewNode(onionCfg),
		sessionManager:  crypto.NewSessionManager(opts.SessionStore, opts.SkippedKeys),
		skippedKeys:     opts.SkippedKeys,
		messageStore:    opts.Messages,
		requestStore:    opts.Requests,
		contactStore:    opts.Contacts,
		ledger:          opts.Ledger,
		signerCache:     opts.Signers,
		notifier:        runtimeapp.NewNotificationHub(2048),
		logger:          opts.Logger,
		metrics:         runtimeapp.NewServiceMetricsState(),
		runtime:         runtimeapp.NewServiceRuntime(),
		identityState:   identity.NewStateStore(),
		startStopMu:     &sync.Mutex{},
		inboundLimiter:  newInboundLimiter(inboundCfg),
		inboundCfg:      inboundCfg,
		retryKick:       make(chan struct{}, 1),
		onionCfg:        onionCfg,
	}
	svc.handshakeCore = handshakeapp.NewService(buildHandshakeDeps(svc))
	svc.deliveryCore = deliveryapp.NewService(buildDeliveryDeps(svc))
	return svc, nil
}

// ensureServiceOptions fills every empty field with an in-memory store,
// which is what tests and the default dev run use, and wraps the logger
// so identifiers and secrets never reach the log sink in the clear.
func ensureServiceOptions(opts contracts.ServiceOptions) (contracts.ServiceOptions, error) {
	if opts.SessionStore == nil {
		opts.SessionStore = crypto.NewInMemorySessionStore()
	}
	if opts.SkippedKeys == nil {
		opts.SkippedKeys = storage.NewSkippedKeyStore()
	}
	if opts.Messages == nil {
		opts.Messages = storage.NewMessageStore()
	}
	if opts.Requests == nil {
		opts.Requests = storage.NewRequestStore()
	}
	if opts.Contacts == nil {
		opts.Contacts = storage.NewContactStore()
	}
	if opts.Ledger == nil {
		opts.Ledger = storage.NewReceivedLedger()
	}
	if opts.Signers == nil {
		opts.Signers = storage.NewPendingPingStore()
	}
	if opts.Logger == nil {
		opts.Logger = runtimeapp.DefaultLogger()
	}
	opts.Logger = slog.New(privacylog.WrapHandler(opts.Logger.Handler()))
	return opts, nil
}

func resolveInboundRateConfig() inboundRateConfig {
	return inboundRateConfig{
		Enabled: envBoolWithFallback("UMBRA_INBOUND_RATE_LIMIT_ENABLED", true),
		RPS:     envBoundedIntWithFallback("UMBRA_INBOUND_RATE_RPS", 25, 1, 1000),
		Burst:   envBoundedIntWithFallback("UMBRA_INBOUND_RATE_BURST", 50, 1, 5000),
	}
}

func newInboundLimiter(cfg inboundRateConfig) *ratelimiter.MapLimiter {
	if !cfg.Enabled {
		return nil
	}
	return ratelimiter.New(float64(cfg.RPS), cfg.Burst, inboundLimiterIdleTTL)
}
