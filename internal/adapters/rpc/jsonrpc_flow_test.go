package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

type mockDaemonService struct {
	getIdentityFn     func() (models.Identity, error)
	createIdentityFn  func(displayName, password string) (models.Identity, string, error)
	importIdentityFn  func(mnemonic, password, displayName string) (models.Identity, error)
	exportBackupFn    func(password string) (string, error)
	listContactsFn    func() ([]models.Contact, error)
	verifyContactFn   func(contactID, fingerprint string) (models.Contact, error)
	startHandshakeFn  func(peerIntroAddress, pin string) (models.FriendRequest, error)
	acceptHandshakeFn func(requestID, pin string) (models.FriendRequest, error)
	listHandshakesFn  func(includeFinished bool) ([]models.FriendRequest, error)
	cancelHandshakeFn func(requestID, reason string) error
	sendMessageFn     func(contactID, content string) (models.Message, error)
	sendTapFn         func(contactID string) (models.Message, error)
	listMessagesFn    func(contactID string, limit, offset int) ([]models.Message, error)
	messageStatusFn   func(messageID string) (models.DeliveryStatus, error)
	retryMessageFn    func(messageID string) (models.Message, error)
	subscribeFn       func(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func())
}

func newMockDaemonService() *mockDaemonService {
	return &mockDaemonService{}
}

func (m *mockDaemonService) GetIdentity() (models.Identity, error) {
	if m.getIdentityFn != nil {
		return m.getIdentityFn()
	}
	return models.Identity{}, nil
}

func (m *mockDaemonService) CreateIdentity(displayName, password string) (models.Identity, string, error) {
	if m.createIdentityFn != nil {
		return m.createIdentityFn(displayName, password)
	}
	return models.Identity{}, "", nil
}

func (m *mockDaemonService) ImportIdentity(mnemonic, password, displayName string) (models.Identity, error) {
	if m.importIdentityFn != nil {
		return m.importIdentityFn(mnemonic, password, displayName)
	}
	return models.Identity{}, nil
}

func (m *mockDaemonService) ValidateMnemonic(string) bool { return true }

func (m *mockDaemonService) ExportBackup(password string) (string, error) {
	if m.exportBackupFn != nil {
		return m.exportBackupFn(password)
	}
	return "", nil
}

func (m *mockDaemonService) ListContacts() ([]models.Contact, error) {
	if m.listContactsFn != nil {
		return m.listContactsFn()
	}
	return nil, nil
}

func (m *mockDaemonService) VerifyContact(contactID, fingerprint string) (models.Contact, error) {
	if m.verifyContactFn != nil {
		return m.verifyContactFn(contactID, fingerprint)
	}
	return models.Contact{}, nil
}

func (m *mockDaemonService) StartHandshake(peerIntroAddress, pin string) (models.FriendRequest, error) {
	if m.startHandshakeFn != nil {
		return m.startHandshakeFn(peerIntroAddress, pin)
	}
	return models.FriendRequest{}, nil
}

func (m *mockDaemonService) AcceptHandshake(requestID, pin string) (models.FriendRequest, error) {
	if m.acceptHandshakeFn != nil {
		return m.acceptHandshakeFn(requestID, pin)
	}
	return models.FriendRequest{}, nil
}

func (m *mockDaemonService) ListHandshakes(includeFinished bool) ([]models.FriendRequest, error) {
	if m.listHandshakesFn != nil {
		return m.listHandshakesFn(includeFinished)
	}
	return nil, nil
}

func (m *mockDaemonService) CancelHandshake(requestID, reason string) error {
	if m.cancelHandshakeFn != nil {
		return m.cancelHandshakeFn(requestID, reason)
	}
	return nil
}

func (m *mockDaemonService) SendMessage(contactID, content string) (models.Message, error) {
	if m.sendMessageFn != nil {
		return m.sendMessageFn(contactID, content)
	}
	return models.Message{}, nil
}

func (m *mockDaemonService) SendTap(contactID string) (models.Message, error) {
	if m.sendTapFn != nil {
		return m.sendTapFn(contactID)
	}
	return models.Message{}, nil
}

func (m *mockDaemonService) ListMessages(contactID string, limit, offset int) ([]models.Message, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(contactID, limit, offset)
	}
	return nil, nil
}

func (m *mockDaemonService) MessageStatus(messageID string) (models.DeliveryStatus, error) {
	if m.messageStatusFn != nil {
		return m.messageStatusFn(messageID)
	}
	return models.DeliveryStatus{}, nil
}

func (m *mockDaemonService) RetryMessage(messageID string) (models.Message, error) {
	if m.retryMessageFn != nil {
		return m.retryMessageFn(messageID)
	}
	return models.Message{}, nil
}

func (m *mockDaemonService) GetNetworkStatus() models.NetworkStatus {
	return models.NetworkStatus{Status: "connected", IntroAddress: "intro.onion", MsgAddress: "msg.onion"}
}

func (m *mockDaemonService) GetMetrics() models.MetricsSnapshot {
	return models.MetricsSnapshot{PendingMessages: 2}
}

func (m *mockDaemonService) StartNetworking(context.Context) error { return nil }
func (m *mockDaemonService) StopNetworking(context.Context) error  { return nil }

func (m *mockDaemonService) SubscribeNotifications(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	if m.subscribeFn != nil {
		return m.subscribeFn(cursor)
	}
	ch := make(chan NotificationEvent)
	close(ch)
	return nil, ch, func() {}
}

func (m *mockDaemonService) ListenAddresses() []string {
	return []string{"/onion3/intro:11009", "/onion3/msg:11010"}
}

func TestRPCIdentityCreatePassesParamsThrough(t *testing.T) {
	svc := newMockDaemonService()
	var gotDisplayName, gotPassword string
	svc.createIdentityFn = func(displayName, password string) (models.Identity, string, error) {
		gotDisplayName, gotPassword = displayName, password
		return models.Identity{ID: "umb1test", DisplayName: displayName}, "abandon ability able", nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.create","params":["hunter2","Ada"]}`, "")

	resp := decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if gotPassword != "hunter2" || gotDisplayName != "Ada" {
		t.Fatalf("params did not reach the service: display=%q password=%q", gotDisplayName, gotPassword)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %#v", resp.Result)
	}
	if result["mnemonic"] != "abandon ability able" {
		t.Fatalf("unexpected mnemonic in result: %#v", result["mnemonic"])
	}
}

func TestRPCIdentityCreateToleratesMissingDisplayName(t *testing.T) {
	svc := newMockDaemonService()
	svc.createIdentityFn = func(displayName, password string) (models.Identity, string, error) {
		if displayName != "" {
			t.Fatalf("expected empty display name, got %q", displayName)
		}
		return models.Identity{ID: "umb1test"}, "m", nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.create","params":["hunter2"]}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
}

func TestRPCHandshakeStartWithAndWithoutPIN(t *testing.T) {
	svc := newMockDaemonService()
	var gotAddr, gotPIN string
	svc.startHandshakeFn = func(peerIntroAddress, pin string) (models.FriendRequest, error) {
		gotAddr, gotPIN = peerIntroAddress, pin
		return models.FriendRequest{ID: "req_1", PIN: "123-456-7890"}, nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"handshake.start","params":["peerintro.onion"]}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if gotAddr != "peerintro.onion" || gotPIN != "" {
		t.Fatalf("unexpected params: addr=%q pin=%q", gotAddr, gotPIN)
	}

	rec = rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"handshake.start","params":["peerintro.onion","123-456-7890"]}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if gotPIN != "123-456-7890" {
		t.Fatalf("pin did not reach the service: %q", gotPIN)
	}
}

func TestRPCHandshakeAcceptRequiresBothParams(t *testing.T) {
	s := newServerWithService(DefaultRPCAddr, newMockDaemonService(), "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"handshake.accept","params":["req_1"]}`, "")

	resp := decodeRPCResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected invalid params -32602, got %+v", resp.Error)
	}
}

func TestRPCHandshakeListPassesIncludeFinished(t *testing.T) {
	svc := newMockDaemonService()
	var gotInclude bool
	svc.listHandshakesFn = func(includeFinished bool) ([]models.FriendRequest, error) {
		gotInclude = includeFinished
		return []models.FriendRequest{{ID: "req_1"}}, nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"handshake.list","params":[]}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if gotInclude {
		t.Fatal("expected includeFinished=false by default")
	}

	rec = rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"handshake.list","params":[true]}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if !gotInclude {
		t.Fatal("includeFinished=true did not reach the service")
	}
}

func TestRPCHandshakeCancelReportsCancelled(t *testing.T) {
	svc := newMockDaemonService()
	var gotReason string
	svc.cancelHandshakeFn = func(requestID, reason string) error {
		gotReason = reason
		return nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"handshake.cancel","params":["req_1","gave up"]}`, "")

	resp := decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["cancelled"] != true {
		t.Fatalf("expected cancelled=true, got %#v", resp.Result)
	}
	if gotReason != "gave up" {
		t.Fatalf("reason did not reach the service: %q", gotReason)
	}
}

func TestRPCMessageSendMapsServiceError(t *testing.T) {
	svc := newMockDaemonService()
	svc.sendMessageFn = func(contactID, content string) (models.Message, error) {
		return models.Message{}, errors.New("contact is not known")
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"message.send","params":["ghost","hi"]}`, "")

	resp := decodeRPCResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != -32050 {
		t.Fatalf("expected service error -32050, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "not known") {
		t.Fatalf("expected service message, got %q", resp.Error.Message)
	}
}

func TestRPCMessageListEnforcesBounds(t *testing.T) {
	s := newServerWithService(DefaultRPCAddr, newMockDaemonService(), "", false)

	cases := []string{
		fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"message.list","params":["c1",%d,0]}`, maxMessageListLimit+1),
		`{"jsonrpc":"2.0","id":2,"method":"message.list","params":["c1",-1,0]}`,
		`{"jsonrpc":"2.0","id":3,"method":"message.list","params":["c1",1.5,0]}`,
		`{"jsonrpc":"2.0","id":4,"method":"message.list","params":["c1",10]}`,
	}
	for _, body := range cases {
		rec := rpcCall(t, s, body, "")
		resp := decodeRPCResponse(t, rec)
		if resp.Error == nil || resp.Error.Code != -32602 {
			t.Fatalf("body %s: expected -32602, got %+v", body, resp.Error)
		}
	}
}

func TestRPCTapSendReturnsMessage(t *testing.T) {
	svc := newMockDaemonService()
	svc.sendTapFn = func(contactID string) (models.Message, error) {
		return models.Message{ID: "msg_tap", ContactID: contactID, TapID: "tap_1"}, nil
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"tap.send","params":["c1"]}`, "")

	resp := decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["tap_id"] != "tap_1" {
		t.Fatalf("expected tap message result, got %#v", resp.Result)
	}
}

func TestRPCNetworkAndMetricsReads(t *testing.T) {
	s := newServerWithService(DefaultRPCAddr, newMockDaemonService(), "", false)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"network.status","params":[]}`, "")
	resp := decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["status"] != "connected" {
		t.Fatalf("unexpected network.status result: %#v", resp.Result)
	}

	rec = rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"network.listen_addresses","params":[]}`, "")
	resp = decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	result, ok = resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %#v", resp.Result)
	}
	if addrs, ok := result["addresses"].([]any); !ok || len(addrs) != 2 {
		t.Fatalf("expected two listen addresses, got %#v", result["addresses"])
	}

	rec = rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"metrics.get","params":[]}`, "")
	resp = decodeRPCResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
}

func TestRPCStreamReplaysHistoryFromCursor(t *testing.T) {
	svc := newMockDaemonService()
	var gotCursor int64
	svc.subscribeFn = func(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
		gotCursor = cursor
		replay := []NotificationEvent{
			{Seq: 6, Method: "notify.message.received", Payload: map[string]string{"message_id": "msg_1"}, Timestamp: time.Unix(100, 0).UTC()},
			{Seq: 7, Method: "notify.message.delivered", Payload: map[string]string{"message_id": "msg_1"}, Timestamp: time.Unix(101, 0).UTC()},
		}
		ch := make(chan NotificationEvent)
		close(ch)
		return replay, ch, func() {}
	}
	s := newServerWithService(DefaultRPCAddr, svc, "", false)

	req := httptest.NewRequest(http.MethodGet, "/rpc/stream?cursor=5", nil)
	rec := httptest.NewRecorder()
	s.HandleRPCStream(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if gotCursor != 5 {
		t.Fatalf("cursor did not reach the service: %d", gotCursor)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "id: 6") || !strings.Contains(body, "id: 7") {
		t.Fatalf("expected both replay events in stream, got:\n%s", body)
	}
	if !strings.Contains(body, "notify.message.received") {
		t.Fatalf("expected notification method in stream, got:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRPCStreamRejectsInvalidCursor(t *testing.T) {
	s := newServerWithService(DefaultRPCAddr, newMockDaemonService(), "", false)

	req := httptest.NewRequest(http.MethodGet, "/rpc/stream?cursor=-3", nil)
	rec := httptest.NewRecorder()
	s.HandleRPCStream(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}
