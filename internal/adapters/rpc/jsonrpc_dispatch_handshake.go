package rpc

import "encoding/json"

func (s *Server) dispatchHandshakeRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "handshake.start":
		peerIntroAddress, pin, err := decodeRequiredWithTrailingParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		request, svcErr := s.service.StartHandshake(peerIntroAddress, pin)
		if svcErr != nil {
			return nil, rpcServiceError(-32040, svcErr), true
		}
		return request, nil, true
	case "handshake.accept":
		result, rpcErr := callWithTwoStringParams(rawParams, -32041, func(requestID, pin string) (any, error) {
			return s.service.AcceptHandshake(requestID, pin)
		})
		return result, rpcErr, true
	case "handshake.list":
		includeFinished, err := decodeOptionalBoolParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		rows, svcErr := s.service.ListHandshakes(includeFinished)
		if svcErr != nil {
			return nil, rpcServiceError(-32042, svcErr), true
		}
		return rows, nil, true
	case "handshake.cancel":
		requestID, reason, err := decodeRequiredWithTrailingParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if svcErr := s.service.CancelHandshake(requestID, reason); svcErr != nil {
			return nil, rpcServiceError(-32043, svcErr), true
		}
		return map[string]bool{"cancelled": true}, nil, true
	default:
		return nil, nil, false
	}
}
