package rpc

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

var errInvalidParams = errors.New("invalid params")

func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && strings.TrimSpace(arr[0]) != "" {
		return arr[0], nil
	}
	return "", errInvalidParams
}

func decodeTwoStringParams(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 2 && strings.TrimSpace(arr[0]) != "" && strings.TrimSpace(arr[1]) != "" {
		return arr[0], arr[1], nil
	}
	return "", "", errInvalidParams
}

// decodeRequiredWithTrailingParam accepts [required] or
// [required, optional]; the trailing string may be empty or absent.
// handshake.start and handshake.cancel both take this shape.
func decodeRequiredWithTrailingParam(raw json.RawMessage) (string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", "", errInvalidParams
	}
	switch len(arr) {
	case 1:
		if strings.TrimSpace(arr[0]) == "" {
			return "", "", errInvalidParams
		}
		return arr[0], "", nil
	case 2:
		if strings.TrimSpace(arr[0]) == "" {
			return "", "", errInvalidParams
		}
		return arr[0], arr[1], nil
	default:
		return "", "", errInvalidParams
	}
}

// decodeCredentialedNameParams accepts [secret] or [secret, displayName];
// the display name is cosmetic and may stay empty.
func decodeCredentialedNameParams(raw json.RawMessage) (string, string, error) {
	secret, displayName, err := decodeRequiredWithTrailingParam(raw)
	if err != nil {
		return "", "", errInvalidParams
	}
	return secret, displayName, nil
}

// decodeImportIdentityParams accepts [mnemonic, password] or
// [mnemonic, password, displayName].
func decodeImportIdentityParams(raw json.RawMessage) (string, string, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", "", "", errInvalidParams
	}
	if len(arr) != 2 && len(arr) != 3 {
		return "", "", "", errInvalidParams
	}
	if strings.TrimSpace(arr[0]) == "" || strings.TrimSpace(arr[1]) == "" {
		return "", "", "", errInvalidParams
	}
	displayName := ""
	if len(arr) == 3 {
		displayName = arr[2]
	}
	return arr[0], arr[1], displayName, nil
}

// decodeOptionalBoolParam accepts [] or [flag].
func decodeOptionalBoolParam(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var arr []bool
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) <= 1 {
		if len(arr) == 1 {
			return arr[0], nil
		}
		return false, nil
	}
	// Tolerate the conventional empty object params.
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj) == 0 {
		return false, nil
	}
	return false, errInvalidParams
}

func decodeMessageListParams(raw json.RawMessage) (string, int, int, error) {
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 3 {
		return "", 0, 0, errInvalidParams
	}
	contactID, ok := arr[0].(string)
	if !ok || contactID == "" {
		return "", 0, 0, errInvalidParams
	}
	limit, err := decodeStrictNonNegativeInt(arr[1])
	if err != nil {
		return "", 0, 0, errInvalidParams
	}
	offset, err := decodeStrictNonNegativeInt(arr[2])
	if err != nil {
		return "", 0, 0, errInvalidParams
	}
	if limit > maxMessageListLimit || offset > maxMessageListOffset {
		return "", 0, 0, errInvalidParams
	}
	return contactID, limit, offset, nil
}

func decodeStrictNonNegativeInt(raw any) (int, error) {
	v, ok := raw.(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errInvalidParams
	}
	if v < 0 || math.Trunc(v) != v {
		return 0, errInvalidParams
	}
	maxInt := float64(^uint(0) >> 1)
	if v > maxInt {
		return 0, errInvalidParams
	}
	return int(v), nil
}
