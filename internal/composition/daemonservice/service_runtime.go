package daemonservice

import (
	"context"
	"errors"
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/internal/onion"
	runtimeapp "umbra-chat/go-backend/internal/platform/runtime"
	"umbra-chat/go-backend/pkg/models"
)

// sweepInterval paces the vault and signer-cache expiry sweeps inside
// the retry loop; every tick would rescan both stores for nothing.
const sweepInterval = time.Minute

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (s *Service) StartNetworking(ctx context.Context) error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	if s.runtime.IsNetworking() {
		return nil
	}

	if err := s.node.Start(ctx); err != nil {
		s.recordError(contracts.ErrorCategoryNetwork, err)
		return err
	}
	localIdentity := s.identityManager.GetIdentity()
	s.node.SetIdentity(localIdentity.ID)
	introAddr, msgAddr := s.node.Addresses()
	s.identityManager.SetAddresses(introAddr, msgAddr)
	s.persistIdentityState("networking.start")
	s.node.SetStateListener(func(string) {
		s.kickRetryLoop()
		s.notifyNetworkStatus(false)
	})
	if err := s.node.SubscribeInbound(s.handleInboundFrame); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.node.Stop(stopCtx)
		cancel()
		s.recordError(contracts.ErrorCategoryNetwork, err)
		return err
	}

	networkCtx, networkCancel := context.WithCancel(ctx)
	retryCtx, retryCancel := context.WithCancel(networkCtx)
	if !s.runtime.TryActivate(networkCtx, networkCancel, retryCancel) {
		retryCancel()
		networkCancel()
		return nil
	}
	s.recoverPendingOnStartup()
	go func() {
		defer s.runtime.RetryLoopDone()
		s.runRetryLoop(retryCtx)
	}()
	s.notifyNetworkStatus(true)
	return nil
}

func (s *Service) StopNetworking(ctx context.Context) error {
	s.startStopMu.Lock()
	defer s.startStopMu.Unlock()

	retryCancel, networkCancel, wasRunning := s.runtime.Deactivate()
	if !wasRunning {
		return nil
	}

	if retryCancel != nil {
		retryCancel()
		s.runtime.WaitRetryLoop()
	}
	if networkCancel != nil {
		networkCancel()
	}
	if err := s.node.Stop(ctx); err != nil {
		s.recordError(contracts.ErrorCategoryNetwork, err)
		return err
	}
	s.notifyNetworkStatus(true)
	return nil
}

// runRetryLoop is the scheduler: one pass per tick, plus an immediate
// pass whenever the transport listener kicks it after a reachability
// change, so a reconnect does not wait out the backoff timers.
func (s *Service) runRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(contracts.RetryLoopTick)
	defer ticker.Stop()

	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.retryKick:
		}
		s.notifyNetworkStatus(false)
		now := time.Now()
		s.runRetryPass(now)
		if now.Sub(lastSweep) >= sweepInterval {
			lastSweep = now
			s.sweepExpired(now)
		}
	}
}

func (s *Service) runRetryPass(now time.Time) {
	attempted := s.handshakeCore.RetryDueRequests(now) + s.deliveryCore.RetryDueMessages(now)
	for i := 0; i < attempted; i++ {
		s.metrics.RecordRetryAttempt()
	}
}

// sweepExpired drops skipped keys nothing ever consumed and signer-cache
// rows whose ping is long resolved or abandoned.
func (s *Service) sweepExpired(now time.Time) {
	if dropped, err := s.skippedKeys.SweepExpired(now); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	} else if dropped > 0 {
		s.logInfo("vault.sweep", "n/a", "expired skipped keys dropped", "dropped", dropped)
	}
	if dropped, err := s.signerCache.SweepExpired(now); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	} else if dropped > 0 {
		s.logInfo("signers.sweep", "n/a", "expired signer cache rows dropped", "dropped", dropped)
	}
}

func (s *Service) kickRetryLoop() {
	select {
	case s.retryKick <- struct{}{}:
	default:
	}
}

// recoverPendingOnStartup rearms every unfinished row whose retry timer
// falls inside the lookahead window, then runs one pass immediately. A
// timer planted five minutes before shutdown should not hold a frame
// hostage for five minutes after boot.
func (s *Service) recoverPendingOnStartup() {
	now := time.Now()
	horizon := now.Add(contracts.StartupRecoveryLookahead)
	rearmed := 0
	for _, row := range s.requestStore.DuePending(horizon) {
		if _, err := s.requestStore.Requeue(row.ID, now); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
			continue
		}
		rearmed++
	}
	for _, row := range s.messageStore.DuePending(horizon) {
		if _, err := s.messageStore.Requeue(row.ID, now); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
			continue
		}
		rearmed++
	}
	if rearmed == 0 {
		return
	}
	s.logInfo("startup.recovery", "n/a", "pending rows rearmed after restart", "row_count", rearmed)
	s.runRetryPass(now)
}

func (s *Service) notifyNetworkStatus(force bool) {
	current := s.GetNetworkStatus()
	if s.runtime.UpdateLastNetworkStatus(current, force) {
		s.notify("notify.network", current)
	}
}

func (s *Service) sendFrameWithTimeout(parent context.Context, frame onion.Frame) error {
	if parent == nil {
		return errors.New("send context is not available")
	}
	sendCtx, cancel := context.WithTimeout(parent, runtimeapp.PublishTimeout)
	defer cancel()
	return s.node.SendFrame(sendCtx, frame)
}

func (s *Service) networkContext() (context.Context, error) {
	ctx, ok := s.runtime.CurrentNetworkContext()
	if ok {
		return ctx, nil
	}
	return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork, errors.New("networking is not started"))
}

func (s *Service) GetNetworkStatus() models.NetworkStatus {
	status := s.node.Status()
	return models.NetworkStatus{
		Status:       status.State,
		IntroAddress: status.IntroAddress,
		MsgAddress:   status.MsgAddress,
		LastChange:   status.LastSync,
	}
}

func (s *Service) ListenAddresses() []string {
	return s.node.ListenMultiaddrs()
}

func (s *Service) GetMetrics() models.MetricsSnapshot {
	counters, opStats, retries, lastAt := s.metrics.Snapshot()
	return models.MetricsSnapshot{
		PendingHandshakes:   s.requestStore.PendingCount(),
		PendingMessages:     s.messageStore.PendingCount(),
		ErrorCounters:       counters,
		NetworkMetrics:      s.node.NetworkMetrics(),
		OperationStats:      opStats,
		RetryAttemptsTotal:  retries,
		NotificationBacklog: s.notifier.BacklogSize(),
		LastUpdatedAt:       lastAt,
	}
}

func (s *Service) SubscribeNotifications(cursor int64) ([]contracts.NotificationEvent, <-chan contracts.NotificationEvent, func()) {
	return s.notifier.Subscribe(cursor)
}

func (s *Service) notify(method string, payload any) {
	s.notifier.Publish(method, payload)
}

func (s *Service) recordError(category string, err error) {
	s.recordErrorWithContext(category, err, "service.error", "n/a")
}

func (s *Service) recordOp(operation string, started time.Time) {
	s.metrics.RecordOp(operation, started)
}

func (s *Service) recordOpError(operation string) {
	s.metrics.RecordOpError(operation)
}

func (s *Service) trackOperation(operation string, errRef *error) func() {
	started := time.Now()
	return func() {
		s.recordOp(operation, started)
		if errRef != nil && *errRef != nil {
			s.recordOpError(operation)
		}
	}
}
