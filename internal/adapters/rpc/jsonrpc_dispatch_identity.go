package rpc

import "encoding/json"

func (s *Server) dispatchIdentityRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "identity.get":
		result, rpcErr := callWithoutParams(-32000, func() (any, error) {
			return s.service.GetIdentity()
		})
		return result, rpcErr, true
	case "identity.create":
		password, displayName, err := decodeCredentialedNameParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		identity, mnemonic, svcErr := s.service.CreateIdentity(displayName, password)
		if svcErr != nil {
			return nil, rpcServiceError(-32020, svcErr), true
		}
		return map[string]any{"identity": identity, "mnemonic": mnemonic}, nil, true
	case "identity.import":
		mnemonic, password, displayName, err := decodeImportIdentityParams(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		identity, svcErr := s.service.ImportIdentity(mnemonic, password, displayName)
		if svcErr != nil {
			return nil, rpcServiceError(-32022, svcErr), true
		}
		return map[string]any{"identity": identity}, nil, true
	case "identity.backup":
		result, rpcErr := callWithSingleStringParam(rawParams, -32021, func(password string) (any, error) {
			mnemonic, err := s.service.ExportBackup(password)
			if err != nil {
				return nil, err
			}
			return map[string]string{"mnemonic": mnemonic}, nil
		})
		return result, rpcErr, true
	case "identity.validate_mnemonic":
		result, rpcErr := callWithSingleStringParam(rawParams, -32026, func(mnemonic string) (any, error) {
			return map[string]bool{"valid": s.service.ValidateMnemonic(mnemonic)}, nil
		})
		return result, rpcErr, true
	case "contact.list":
		result, rpcErr := callWithoutParams(-32010, func() (any, error) {
			return s.service.ListContacts()
		})
		return result, rpcErr, true
	case "contact.verify":
		result, rpcErr := callWithTwoStringParams(rawParams, -32011, func(contactID, fingerprint string) (any, error) {
			return s.service.VerifyContact(contactID, fingerprint)
		})
		return result, rpcErr, true
	default:
		return nil, nil, false
	}
}
