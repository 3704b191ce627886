package rpc

import "encoding/json"

func callWithoutParams(serviceErrCode int, call func() (any, error)) (any, *rpcError) {
	result, err := call()
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callWithSingleStringParam(rawParams json.RawMessage, serviceErrCode int, call func(string) (any, error)) (any, *rpcError) {
	param, err := decodeSingleStringParam(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(param)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callWithTwoStringParams(rawParams json.RawMessage, serviceErrCode int, call func(string, string) (any, error)) (any, *rpcError) {
	a, b, err := decodeTwoStringParams(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(a, b)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}

func callWithMessageListParams(
	rawParams json.RawMessage,
	serviceErrCode int,
	call func(contactID string, limit, offset int) (any, error),
) (any, *rpcError) {
	contactID, limit, offset, err := decodeMessageListParams(rawParams)
	if err != nil {
		return nil, rpcInvalidParams()
	}
	result, err := call(contactID, limit, offset)
	if err != nil {
		return nil, rpcServiceError(serviceErrCode, err)
	}
	return result, nil
}
