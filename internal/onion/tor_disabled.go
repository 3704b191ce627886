//go:build !real_tor

package onion

func newTorBackend() torBackend { return nil }
