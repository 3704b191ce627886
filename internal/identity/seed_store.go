package identity

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	seedEnvelopeVersion = 1
	seedKDFName         = "argon2id"
	seedKDFTime         = uint32(2)
	seedKDFMemoryKB     = uint32(64 * 1024)
	seedKDFThreads      = uint8(1)
	seedSaltSize        = 16
)

// EncryptSeed seals the mnemonic under a password-derived key. The envelope
// header rides along as AEAD associated data, so a header rewritten after
// seal fails to open.
func EncryptSeed(seed []byte, password []byte) (*EncryptedSeedEnvelope, error) {
	if len(seed) == 0 {
		return nil, errors.New("empty seed")
	}
	salt := make([]byte, seedSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	env := &EncryptedSeedEnvelope{
		Version:     seedEnvelopeVersion,
		KDF:         seedKDFName,
		KDFTime:     seedKDFTime,
		KDFMemoryKB: seedKDFMemoryKB,
		KDFThreads:  seedKDFThreads,
		Salt:        salt,
	}

	key := deriveSeedKey(password, env)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env.Nonce = nonce
	env.Ciphertext = aead.Seal(nil, nonce, seed, seedEnvelopeAAD(env))
	return env, nil
}

// DecryptSeed opens a sealed envelope. A wrong password and a tampered
// envelope are indistinguishable to the caller.
func DecryptSeed(env *EncryptedSeedEnvelope, password []byte) ([]byte, error) {
	if env.Version != seedEnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	if env.KDF != seedKDFName {
		return nil, fmt.Errorf("unsupported kdf: %s", env.KDF)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("malformed envelope nonce")
	}

	key := deriveSeedKey(password, env)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, env.Nonce, env.Ciphertext, seedEnvelopeAAD(env))
}

func deriveSeedKey(password []byte, env *EncryptedSeedEnvelope) []byte {
	return argon2.IDKey(password, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
}

// seedEnvelopeAAD encodes the header fields that must not change after seal.
func seedEnvelopeAAD(env *EncryptedSeedEnvelope) []byte {
	aad := make([]byte, 0, 13+len(env.KDF))
	aad = binary.BigEndian.AppendUint32(aad, env.Version)
	aad = append(aad, env.KDF...)
	aad = binary.BigEndian.AppendUint32(aad, env.KDFTime)
	aad = binary.BigEndian.AppendUint32(aad, env.KDFMemoryKB)
	aad = append(aad, env.KDFThreads)
	return aad
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
