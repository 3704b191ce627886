package onion

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	TransportMock = "mock"
	TransportTor  = "tor"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"

	defaultIntroPort = 11009
	defaultMsgPort   = 11010
)

var runtimeStatusPollInterval = 1 * time.Second

type Config struct {
	Transport             string        `yaml:"transport"`
	DataDir               string        `yaml:"dataDir"`
	IntroPort             int           `yaml:"introPort"`
	MsgPort               int           `yaml:"msgPort"`
	BootstrapTimeout      time.Duration `yaml:"bootstrapTimeout"`
	DialTimeout           time.Duration `yaml:"dialTimeout"`
	FrameReadTimeout      time.Duration `yaml:"frameReadTimeout"`
	MaxFrameBytes         int           `yaml:"maxFrameBytes"`
	ReconnectInterval     time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax   time.Duration `yaml:"reconnectBackoffMax"`
	CircuitRotateInterval time.Duration `yaml:"circuitRotateInterval"`
	TorDebug              bool          `yaml:"torDebug"`
}

type Status struct {
	State        string
	IntroAddress string
	MsgAddress   string
	LastSync     time.Time
}

// Node fronts the hidden-service transport. The mock backend routes
// frames through an in-process bus; the tor backend, compiled behind the
// real_tor tag, publishes two onion services and dials peers through the
// embedded client.
type Node struct {
	mu            sync.RWMutex
	cfg           Config
	status        Status
	selfID        string
	handler       func(Frame)
	stateListener func(state string)
	tb            torBackend

	monitorCancel    context.CancelFunc
	monitorWG        sync.WaitGroup
	stateTransitions int
}

type torBackend interface {
	Start(ctx context.Context, cfg Config) error
	Stop()
	CircuitEstablished() bool
	NetworkMetrics() map[string]int
	Addresses() (intro, msg string)
	SubscribeInbound(handler func(Frame)) error
	SendFrame(ctx context.Context, frame Frame) error
	RotateCircuit(ctx context.Context) error
}

func DefaultConfig() Config {
	return Config{
		Transport:             TransportMock,
		IntroPort:             defaultIntroPort,
		MsgPort:               defaultMsgPort,
		BootstrapTimeout:      90 * time.Second,
		DialTimeout:           45 * time.Second,
		FrameReadTimeout:      30 * time.Second,
		MaxFrameBytes:         1 << 20,
		ReconnectInterval:     1 * time.Second,
		ReconnectBackoffMax:   30 * time.Second,
		CircuitRotateInterval: 5 * time.Minute,
	}
}

func NewNode(cfg Config) *Node {
	cfg = normalizeConfig(cfg)
	return &Node{
		cfg: cfg,
		status: Status{
			State: StateDisconnected,
		},
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.IntroPort <= 0 {
		cfg.IntroPort = def.IntroPort
	}
	if cfg.MsgPort <= 0 {
		cfg.MsgPort = def.MsgPort
	}
	if cfg.MsgPort == cfg.IntroPort {
		cfg.MsgPort = cfg.IntroPort + 1
	}
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = def.BootstrapTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.FrameReadTimeout <= 0 {
		cfg.FrameReadTimeout = def.FrameReadTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.CircuitRotateInterval < 0 {
		cfg.CircuitRotateInterval = 0
	}
	return cfg
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.transitionStateLocked(StateConnecting)
	n.status.LastSync = time.Now()
	n.mu.Unlock()

	if n.cfg.Transport == TransportTor {
		backend := newTorBackend()
		if backend == nil {
			n.setDisconnected()
			return errors.New("tor backend is not available in this build")
		}
		startCtx, cancel := context.WithTimeout(ctx, n.cfg.BootstrapTimeout)
		defer cancel()
		if err := backend.Start(startCtx, n.cfg); err != nil {
			n.setDisconnected()
			return err
		}
		intro, msg := backend.Addresses()
		n.mu.Lock()
		n.tb = backend
		n.transitionStateLocked(startupState(backend.CircuitEstablished()))
		n.status.IntroAddress = intro
		n.status.MsgAddress = msg
		n.status.LastSync = time.Now()
		n.mu.Unlock()
		n.startRuntimeMonitor()
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	n.mu.Lock()
	n.transitionStateLocked(StateConnected)
	n.status.IntroAddress = mockAddressForLocked(n.selfID, ServiceIntro)
	n.status.MsgAddress = mockAddressForLocked(n.selfID, ServiceMsg)
	n.status.LastSync = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.stopRuntimeMonitor()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.tb != nil {
		n.tb.Stop()
		n.tb = nil
	}
	if n.status.IntroAddress != "" {
		globalBus.unsubscribe(n.status.IntroAddress)
	}
	if n.status.MsgAddress != "" {
		globalBus.unsubscribe(n.status.MsgAddress)
	}
	n.transitionStateLocked(StateDisconnected)
	n.status.LastSync = time.Now()
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// SetIdentity tells the node whose traffic it carries. The mock backend
// also derives its stable addresses from it.
func (n *Node) SetIdentity(identityID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selfID = identityID
	if n.tb == nil && n.status.State != StateDisconnected {
		n.status.IntroAddress = mockAddressForLocked(identityID, ServiceIntro)
		n.status.MsgAddress = mockAddressForLocked(identityID, ServiceMsg)
	}
}

// SetStateListener registers a callback fired on every reachability
// transition. The callback runs on its own goroutine and must not call
// back into the node synchronously.
func (n *Node) SetStateListener(fn func(state string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stateListener = fn
}

// Addresses returns the two published hidden-service hostnames. Both are
// empty until the node has started.
func (n *Node) Addresses() (intro, msg string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.IntroAddress, n.status.MsgAddress
}

// SubscribeInbound registers the single handler for frames arriving on
// either service.
func (n *Node) SubscribeInbound(handler func(Frame)) error {
	n.mu.Lock()
	n.handler = handler
	state := n.status.State
	selfID := n.selfID
	intro := n.status.IntroAddress
	msg := n.status.MsgAddress
	tb := n.tb
	n.mu.Unlock()

	if state != StateConnected && state != StateDegraded {
		return errors.New("transport not connected")
	}
	if selfID == "" {
		return errors.New("identity is not set")
	}
	if tb != nil {
		return tb.SubscribeInbound(handler)
	}
	counted := func(frame Frame) {
		framesReceived.Inc()
		handler(frame)
	}
	globalBus.subscribe(intro, counted)
	globalBus.subscribe(msg, counted)
	return nil
}

// SendFrame delivers one frame to the recipient address. Delivery is
// best effort; callers own retries.
func (n *Node) SendFrame(ctx context.Context, frame Frame) error {
	n.mu.RLock()
	state := n.status.State
	tb := n.tb
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return errors.New("transport not connected")
	}
	if frame.Recipient == "" {
		return errors.New("recipient is required")
	}
	if frame.Service != ServiceIntro && frame.Service != ServiceMsg {
		return errors.New("frame service is required")
	}
	if tb != nil {
		return tb.SendFrame(ctx, frame)
	}
	framesSent.Inc()
	globalBus.publish(frame)
	return nil
}

// RotateCircuit asks the tor client for fresh circuits. The mock
// transport has none and reports success.
func (n *Node) RotateCircuit(ctx context.Context) error {
	n.mu.RLock()
	tb := n.tb
	n.mu.RUnlock()
	if tb == nil {
		return nil
	}
	return tb.RotateCircuit(ctx)
}

func (n *Node) ListenMultiaddrs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, 2)
	if n.status.IntroAddress != "" {
		if addr, err := Multiaddr(n.status.IntroAddress, n.cfg.IntroPort); err == nil {
			out = append(out, addr.String())
		}
	}
	if n.status.MsgAddress != "" {
		if addr, err := Multiaddr(n.status.MsgAddress, n.cfg.MsgPort); err == nil {
			out = append(out, addr.String())
		}
	}
	return out
}

func (n *Node) setDisconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitionStateLocked(StateDisconnected)
	n.status.LastSync = time.Now()
}

func (n *Node) startRuntimeMonitor() {
	n.mu.Lock()
	if n.monitorCancel != nil {
		n.monitorCancel()
		n.monitorCancel = nil
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	n.monitorCancel = cancel
	n.monitorWG.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.monitorWG.Done()
		ticker := time.NewTicker(runtimeStatusPollInterval)
		defer ticker.Stop()

		// Update once immediately to avoid waiting one interval after startup.
		n.refreshRuntimeStatus()

		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				n.refreshRuntimeStatus()
			}
		}
	}()
}

func (n *Node) stopRuntimeMonitor() {
	n.mu.Lock()
	cancel := n.monitorCancel
	n.monitorCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.monitorWG.Wait()
	}
}

func (n *Node) refreshRuntimeStatus() {
	n.mu.RLock()
	tb := n.tb
	n.mu.RUnlock()
	if tb == nil {
		return
	}
	nextState := StateConnected
	if !tb.CircuitEstablished() {
		nextState = StateDegraded
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.State == StateDisconnected {
		return
	}
	if n.status.State != nextState {
		n.transitionStateLocked(nextState)
		n.status.LastSync = time.Now()
	}
}

func (n *Node) NetworkMetrics() map[string]int {
	n.mu.RLock()
	transitions := n.stateTransitions
	tb := n.tb
	n.mu.RUnlock()
	out := map[string]int{
		"network_state_transitions": transitions,
	}
	if tb != nil {
		for k, v := range tb.NetworkMetrics() {
			out[k] = v
		}
	}
	return out
}

func (n *Node) transitionStateLocked(next string) {
	if next == "" {
		return
	}
	if n.status.State != next {
		n.stateTransitions++
		n.status.State = next
		if n.stateListener != nil {
			go n.stateListener(next)
		}
	}
}

func mockAddressForLocked(identityID, service string) string {
	if identityID == "" {
		return ""
	}
	return mockAddress(identityID, service)
}

func startupState(circuitReady bool) string {
	if circuitReady {
		return StateConnected
	}
	return StateDegraded
}
