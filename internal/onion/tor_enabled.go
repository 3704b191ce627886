//go:build real_tor

package onion

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cretz/bine/tor"
)

const (
	introKeyFile = "intro_service.key"
	msgKeyFile   = "msg_service.key"
)

type torNode struct {
	mu        sync.RWMutex
	tor       *tor.Tor
	introSvc  net.Listener
	msgSvc    net.Listener
	introAddr string
	msgAddr   string
	handler   func(Frame)
	cfg       Config
	closed    bool
	acceptWG  sync.WaitGroup
	metrics   torMetrics
}

type torMetrics struct {
	DialAttempts     int
	DialSuccess      int
	DialFailures     int
	FramesSent       int
	FramesReceived   int
	FramesRejected   int
	CircuitRotations int
}

func newTorBackend() torBackend {
	return &torNode{}
}

func (g *torNode) Start(ctx context.Context, cfg Config) error {
	var debugWriter io.Writer
	if cfg.TorDebug {
		debugWriter = os.Stderr
	}
	t, err := tor.Start(ctx, &tor.StartConf{
		DataDir:     filepath.Join(cfg.DataDir, "tor"),
		DebugWriter: debugWriter,
	})
	if err != nil {
		return fmt.Errorf("tor start: %w", err)
	}
	if err := t.EnableNetwork(ctx, true); err != nil {
		t.Close()
		return fmt.Errorf("tor bootstrap: %w", err)
	}

	introKey, err := loadOrCreateServiceKey(filepath.Join(cfg.DataDir, introKeyFile))
	if err != nil {
		t.Close()
		return err
	}
	msgKey, err := loadOrCreateServiceKey(filepath.Join(cfg.DataDir, msgKeyFile))
	if err != nil {
		t.Close()
		return err
	}

	introSvc, err := t.Listen(ctx, &tor.ListenConf{
		RemotePorts: []int{cfg.IntroPort},
		Key:         introKey,
		Version3:    true,
	})
	if err != nil {
		t.Close()
		return fmt.Errorf("intro service: %w", err)
	}
	msgSvc, err := t.Listen(ctx, &tor.ListenConf{
		RemotePorts: []int{cfg.MsgPort},
		Key:         msgKey,
		Version3:    true,
	})
	if err != nil {
		introSvc.Close()
		t.Close()
		return fmt.Errorf("msg service: %w", err)
	}

	g.mu.Lock()
	g.tor = t
	g.cfg = cfg
	g.introSvc = introSvc
	g.msgSvc = msgSvc
	g.introAddr = introSvc.ID + ".onion"
	g.msgAddr = msgSvc.ID + ".onion"
	g.closed = false
	g.mu.Unlock()

	g.acceptWG.Add(2)
	go g.acceptLoop(introSvc, ServiceIntro)
	go g.acceptLoop(msgSvc, ServiceMsg)
	slog.Info("hidden services published", "intro_addr", g.introAddr, "msg_addr", g.msgAddr)
	return nil
}

func (g *torNode) Stop() {
	g.mu.Lock()
	g.closed = true
	introSvc := g.introSvc
	msgSvc := g.msgSvc
	t := g.tor
	g.introSvc = nil
	g.msgSvc = nil
	g.tor = nil
	g.mu.Unlock()

	if introSvc != nil {
		introSvc.Close()
	}
	if msgSvc != nil {
		msgSvc.Close()
	}
	g.acceptWG.Wait()
	if t != nil {
		t.Close()
	}
}

func (g *torNode) CircuitEstablished() bool {
	g.mu.RLock()
	t := g.tor
	g.mu.RUnlock()
	if t == nil || t.Control == nil {
		return false
	}
	info, err := t.Control.GetInfo("status/circuit-established")
	if err != nil || len(info) == 0 {
		return false
	}
	return info[0].Val == "1"
}

func (g *torNode) NetworkMetrics() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return map[string]int{
		"dial_attempts":     g.metrics.DialAttempts,
		"dial_success":      g.metrics.DialSuccess,
		"dial_failures":     g.metrics.DialFailures,
		"frames_sent":       g.metrics.FramesSent,
		"frames_received":   g.metrics.FramesReceived,
		"frames_rejected":   g.metrics.FramesRejected,
		"circuit_rotations": g.metrics.CircuitRotations,
	}
}

func (g *torNode) Addresses() (string, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.introAddr, g.msgAddr
}

func (g *torNode) SubscribeInbound(handler func(Frame)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tor == nil {
		return errors.New("tor node is nil")
	}
	g.handler = handler
	return nil
}

func (g *torNode) SendFrame(ctx context.Context, frame Frame) error {
	g.mu.RLock()
	t := g.tor
	cfg := g.cfg
	g.mu.RUnlock()
	if t == nil {
		return errors.New("tor node is nil")
	}

	port := cfg.MsgPort
	if frame.Service == ServiceIntro {
		port = cfg.IntroPort
	}

	g.recordDialAttempt()
	dialer, err := t.Dialer(ctx, nil)
	if err != nil {
		g.recordDialFailure()
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(frame.Recipient, strconv.Itoa(port)))
	if err != nil {
		g.recordDialFailure()
		dialFailures.Inc()
		return err
	}
	defer conn.Close()
	g.recordDialSuccess()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := writeFrame(conn, frame, cfg.MaxFrameBytes); err != nil {
		return err
	}
	g.mu.Lock()
	g.metrics.FramesSent++
	g.mu.Unlock()
	framesSent.Inc()
	return nil
}

func (g *torNode) RotateCircuit(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tor == nil || g.tor.Control == nil {
		return errors.New("tor control connection is not available")
	}
	if err := g.tor.Control.Signal("NEWNYM"); err != nil {
		return err
	}
	g.metrics.CircuitRotations++
	return nil
}

func (g *torNode) acceptLoop(l net.Listener, service string) {
	defer g.acceptWG.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			g.mu.RLock()
			closed := g.closed
			g.mu.RUnlock()
			if closed {
				return
			}
			slog.Warn("accept failed", "service", service, "reason", err.Error())
			continue
		}
		go g.handleConn(conn, service)
	}
}

func (g *torNode) handleConn(conn net.Conn, service string) {
	defer conn.Close()

	g.mu.RLock()
	handler := g.handler
	cfg := g.cfg
	g.mu.RUnlock()

	conn.SetReadDeadline(time.Now().Add(cfg.FrameReadTimeout))
	frame, err := readFrame(conn, cfg.MaxFrameBytes)
	if err != nil {
		g.mu.Lock()
		g.metrics.FramesRejected++
		g.mu.Unlock()
		framesRejected.Inc()
		slog.Warn("inbound frame rejected", "service", service, "reason", err.Error())
		return
	}
	frame.Service = service

	g.mu.Lock()
	g.metrics.FramesReceived++
	g.mu.Unlock()
	framesReceived.Inc()
	if handler != nil {
		handler(frame)
	}
}

func (g *torNode) recordDialAttempt() {
	g.mu.Lock()
	g.metrics.DialAttempts++
	g.mu.Unlock()
}

func (g *torNode) recordDialSuccess() {
	g.mu.Lock()
	g.metrics.DialSuccess++
	g.mu.Unlock()
}

func (g *torNode) recordDialFailure() {
	g.mu.Lock()
	g.metrics.DialFailures++
	g.mu.Unlock()
}

// loadOrCreateServiceKey keeps the hidden-service identity stable across
// restarts: the same key always publishes the same onion address.
func loadOrCreateServiceKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("service key %s has unexpected size %d", path, len(raw))
		}
		return ed25519.PrivateKey(raw), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
