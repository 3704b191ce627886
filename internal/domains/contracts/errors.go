package contracts

import (
	"errors"
	"strings"
)

// Protocol-level failure classes. Duplicate frames are benign and
// discarded; signature and decryption failures are per-item terminal and
// never abort the surrounding loop; a terminal handshake failure stops
// automatic retries for that request only.
var ErrDuplicate = errors.New("identifier already recorded")
var ErrTerminalHandshakeFailure = errors.New("handshake failed terminally")
var ErrSignatureMismatch = errors.New("signature does not match the expected signer")
var ErrDecryptionFailure = errors.New("payload could not be decrypted")

const (
	ErrorCategoryAPI     = "api"
	ErrorCategoryCrypto  = "crypto"
	ErrorCategoryStorage = "storage"
	ErrorCategoryNetwork = "network"
)

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryCrypto:
		return ErrorCategoryCrypto
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	case ErrorCategoryNetwork:
		return ErrorCategoryNetwork
	default:
		return ErrorCategoryAPI
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	return ErrorCategoryAPI
}
