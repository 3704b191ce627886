package rpc

import "encoding/json"

func (s *Server) dispatchMessageRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "message.send":
		result, rpcErr := callWithTwoStringParams(rawParams, -32050, func(contactID, content string) (any, error) {
			return s.service.SendMessage(contactID, content)
		})
		return result, rpcErr, true
	case "tap.send":
		result, rpcErr := callWithSingleStringParam(rawParams, -32051, func(contactID string) (any, error) {
			return s.service.SendTap(contactID)
		})
		return result, rpcErr, true
	case "message.list":
		result, rpcErr := callWithMessageListParams(rawParams, -32052, func(contactID string, limit, offset int) (any, error) {
			return s.service.ListMessages(contactID, limit, offset)
		})
		return result, rpcErr, true
	case "message.status":
		result, rpcErr := callWithSingleStringParam(rawParams, -32053, func(messageID string) (any, error) {
			return s.service.MessageStatus(messageID)
		})
		return result, rpcErr, true
	case "message.retry":
		result, rpcErr := callWithSingleStringParam(rawParams, -32054, func(messageID string) (any, error) {
			return s.service.RetryMessage(messageID)
		})
		return result, rpcErr, true
	default:
		return nil, nil, false
	}
}
