package onion

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

var errBadOnionAddress = errors.New("invalid onion address")

var onionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Multiaddr renders a hidden-service endpoint as /onion3/<addr>:<port>.
func Multiaddr(address string, port int) (ma.Multiaddr, error) {
	label, ok := strings.CutSuffix(strings.ToLower(strings.TrimSpace(address)), ".onion")
	if !ok || label == "" {
		return nil, errBadOnionAddress
	}
	addr, err := ma.NewMultiaddr(fmt.Sprintf("/onion3/%s:%d", label, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadOnionAddress, err)
	}
	return addr, nil
}

// ValidateAddress checks that address is a well formed v3 hidden-service
// hostname. Cards from a handshake pass through here before the contact
// is stored.
func ValidateAddress(address string) error {
	_, err := Multiaddr(address, defaultMsgPort)
	return err
}

// mockAddress derives a stable, well formed onion hostname for the mock
// transport so two in-process nodes can exchange cards that pass the
// same validation real addresses do. 35 input bytes encode to exactly
// the 56 base32 characters a v3 hostname has.
func mockAddress(identityID, service string) string {
	sum := sha256.Sum256([]byte("umbra/mock-onion/" + service + "/" + identityID))
	buf := append(sum[:], sum[:3]...)
	return strings.ToLower(onionEncoding.EncodeToString(buf)) + ".onion"
}
