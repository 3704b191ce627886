package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"umbra-chat/go-backend/internal/securestore"
)

func TestInitSessionRejectsInvalidRootKey(t *testing.T) {
	m := NewSessionManager(NewInMemorySessionStore(), NewInMemorySkippedKeyVault())
	if _, err := m.InitSession("req_conv", []byte{1, 2, 3}, true); !errors.Is(err, ErrInvalidRootKey) {
		t.Fatalf("expected ErrInvalidRootKey for short root, got %v", err)
	}
	if _, err := m.InitSession("", random32(t), true); !errors.Is(err, ErrInvalidContact) {
		t.Fatalf("expected ErrInvalidContact for empty conversation id, got %v", err)
	}
}

func TestPairedSessionsRoundTrip(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 1)

	env, err := alice.EncryptPayload("req_conv", "msg_1", []byte("secret text"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := bob.DecryptPayload("req_conv", env)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret text" {
		t.Fatalf("unexpected plaintext: %s", string(plain))
	}
}

func TestControlKeyMatchesAcrossPeers(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 7)

	aliceKey, err := alice.ControlKey("req_conv")
	if err != nil {
		t.Fatalf("alice control key failed: %v", err)
	}
	bobKey, err := bob.ControlKey("req_conv")
	if err != nil {
		t.Fatalf("bob control key failed: %v", err)
	}
	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("control keys must match on both sides")
	}
}

func TestControlFrameBindsKind(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 9)

	aliceKey, err := alice.ControlKey("req_conv")
	if err != nil {
		t.Fatalf("control key failed: %v", err)
	}
	env, err := SealControlFrame(aliceKey, "pong", []byte(`{"ping_id":"ping_1"}`))
	if err != nil {
		t.Fatalf("seal control frame failed: %v", err)
	}

	bobKey, err := bob.ControlKey("req_conv")
	if err != nil {
		t.Fatalf("control key failed: %v", err)
	}
	body, err := OpenControlFrame(bobKey, "pong", env)
	if err != nil {
		t.Fatalf("open control frame failed: %v", err)
	}
	if string(body) != `{"ping_id":"ping_1"}` {
		t.Fatalf("unexpected control body: %s", string(body))
	}

	if _, err := OpenControlFrame(bobKey, "tapack", env); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("pong frame opened as tapack: %v", err)
	}
}

func TestDecryptOutOfOrderBanksAndConsumesSkippedKeys(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 21)

	envs := make([]PayloadEnvelope, 6)
	for i := range envs {
		env, err := alice.EncryptPayload("req_conv", msgID(i), []byte(plainFor(i)))
		if err != nil {
			t.Fatalf("encrypt %d failed: %v", i, err)
		}
		envs[i] = env
	}

	// Deliver 0..2 in order, then 5 ahead of 3 and 4.
	for i := 0; i <= 2; i++ {
		if _, err := bob.DecryptPayload("req_conv", envs[i]); err != nil {
			t.Fatalf("decrypt %d failed: %v", i, err)
		}
	}
	plain5, err := bob.DecryptPayload("req_conv", envs[5])
	if err != nil {
		t.Fatalf("decrypt seq 5 ahead of 3 and 4 failed: %v", err)
	}
	if string(plain5) != plainFor(5) {
		t.Fatalf("unexpected plaintext for seq 5: %s", string(plain5))
	}

	state, ok, err := bob.GetSession("req_conv")
	if err != nil || !ok {
		t.Fatalf("get session failed: ok=%v err=%v", ok, err)
	}
	if state.RecvCounter != 6 {
		t.Fatalf("expected recv counter 6 after seq 5, got %d", state.RecvCounter)
	}

	// The jumped-over keys decrypt 3 and 4 in any order, exactly once.
	plain4, err := bob.DecryptPayload("req_conv", envs[4])
	if err != nil {
		t.Fatalf("decrypt banked seq 4 failed: %v", err)
	}
	if string(plain4) != plainFor(4) {
		t.Fatalf("unexpected plaintext for seq 4: %s", string(plain4))
	}
	if _, err := bob.DecryptPayload("req_conv", envs[3]); err != nil {
		t.Fatalf("decrypt banked seq 3 failed: %v", err)
	}

	if _, err := bob.DecryptPayload("req_conv", envs[3]); !errors.Is(err, ErrSkippedKeyMissing) {
		t.Fatalf("expected consumed key to be gone, got %v", err)
	}
}

func TestDecryptRejectsExcessiveGap(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 33)

	env, err := alice.EncryptPayload("req_conv", "msg_far", []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	env.Sequence = maxSkipAhead + 1
	if _, err := bob.DecryptPayload("req_conv", env); !errors.Is(err, ErrSequenceTooFar) {
		t.Fatalf("expected ErrSequenceTooFar, got %v", err)
	}
}

func TestFailedDecryptLeavesChainUntouched(t *testing.T) {
	alice, bob := newPairedSessionManagers(t, 55)

	env, err := alice.EncryptPayload("req_conv", "msg_1", []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	tampered := env
	tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xFF
	if _, err := bob.DecryptPayload("req_conv", tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}

	// The failed attempt must not have advanced the receive chain.
	plain, err := bob.DecryptPayload("req_conv", env)
	if err != nil {
		t.Fatalf("decrypt genuine frame after tamper failed: %v", err)
	}
	if string(plain) != "hello" {
		t.Fatalf("unexpected plaintext: %s", string(plain))
	}
}

func TestSkippedKeysLiveInVaultNotSession(t *testing.T) {
	vault := NewInMemorySkippedKeyVault()
	alice := NewSessionManager(NewInMemorySessionStore(), NewInMemorySkippedKeyVault())
	bob := NewSessionManager(NewInMemorySessionStore(), vault)
	root := random32(t)
	if _, err := alice.InitSession("req_conv", root, true); err != nil {
		t.Fatalf("alice init failed: %v", err)
	}
	if _, err := bob.InitSession("req_conv", root, false); err != nil {
		t.Fatalf("bob init failed: %v", err)
	}

	env0, err := alice.EncryptPayload("req_conv", "msg_0", []byte("zero"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	env1, err := alice.EncryptPayload("req_conv", "msg_1", []byte("one"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := bob.DecryptPayload("req_conv", env1); err != nil {
		t.Fatalf("decrypt seq 1 first failed: %v", err)
	}

	key, found, err := vault.Consume("req_conv", 0)
	if err != nil || !found {
		t.Fatalf("expected banked key for seq 0: found=%v err=%v", found, err)
	}
	if err := vault.Put("req_conv", 0, key); err != nil {
		t.Fatalf("put key back failed: %v", err)
	}
	if _, err := bob.DecryptPayload("req_conv", env0); err != nil {
		t.Fatalf("decrypt seq 0 from vault failed: %v", err)
	}
}

func TestSessionStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	manager1 := NewSessionManager(NewFileSessionStore(path), NewInMemorySkippedKeyVault())
	root := random32(t)
	state1, err := manager1.InitSession("req_conv", root, true)
	if err != nil {
		t.Fatalf("init session failed: %v", err)
	}
	if _, err := manager1.EncryptPayload("req_conv", "msg_1", []byte("hi")); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	// Simulate restart: new manager with the same file store.
	manager2 := NewSessionManager(NewFileSessionStore(path), NewInMemorySkippedKeyVault())
	state2, ok, err := manager2.GetSession("req_conv")
	if err != nil {
		t.Fatalf("get session after restart failed: %v", err)
	}
	if !ok {
		t.Fatal("expected session to exist after restart")
	}
	if state2.SendCounter != 1 {
		t.Fatalf("expected send counter 1 after restart, got %d", state2.SendCounter)
	}
	if !bytes.Equal(state1.RootKey, state2.RootKey) {
		t.Fatal("root key must survive restart")
	}
}

func TestEncryptedFileSessionStoreTamperFailsAuth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.enc")
	store := NewEncryptedFileSessionStore(path, "pass")
	manager := NewSessionManager(store, NewInMemorySkippedKeyVault())

	if _, err := manager.InitSession("req_conv", random32(t), true); err != nil {
		t.Fatalf("init session failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read encrypted sessions failed: %v", err)
	}
	data[len(data)-4] ^= 0xAB
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write tampered sessions failed: %v", err)
	}

	_, _, err = NewEncryptedFileSessionStore(path, "pass").Get("req_conv")
	if !errors.Is(err, securestore.ErrAuthFailed) && !errors.Is(err, securestore.ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed or ErrInvalid, got %v", err)
	}
}

func TestEncryptedFileSessionStoreCreatesPrivateDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secure", "sessions.enc")
	store := NewEncryptedFileSessionStore(path, "pass")
	manager := NewSessionManager(store, NewInMemorySkippedKeyVault())

	if _, err := manager.InitSession("req_conv_private", random32(t), true); err != nil {
		t.Fatalf("init session failed: %v", err)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat dir failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o700 {
		t.Fatalf("expected dir perm 0700, got %04o", info.Mode().Perm())
	}
}

func random32(t *testing.T) []byte {
	t.Helper()
	out := make([]byte, 32)
	if _, err := rand.Read(out); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	return out
}

func msgID(i int) string {
	return string(rune('a'+i)) + "_msg"
}

func plainFor(i int) string {
	return "payload-" + string(rune('0'+i))
}

func newPairedSessionManagers(t *testing.T, rootOffset byte) (*SessionManager, *SessionManager) {
	t.Helper()
	alice := NewSessionManager(NewInMemorySessionStore(), NewInMemorySkippedKeyVault())
	bob := NewSessionManager(NewInMemorySessionStore(), NewInMemorySkippedKeyVault())
	root := make([]byte, 32)
	for i := range root {
		root[i] = byte(int(rootOffset) + i)
	}
	if _, err := alice.InitSession("req_conv", root, true); err != nil {
		t.Fatalf("alice init session failed: %v", err)
	}
	if _, err := bob.InitSession("req_conv", root, false); err != nil {
		t.Fatalf("bob init session failed: %v", err)
	}
	return alice, bob
}
