package daemonservice

import (
	daemoncomposition "umbra-chat/go-backend/internal/composition/daemon"
	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/internal/onion"
	runtimeapp "umbra-chat/go-backend/internal/platform/runtime"
)

// noinspection GoUnusedExportedFunction
func NewServiceForDaemon(onionCfg onion.Config) (*Service, error) {
	return NewServiceForDaemonWithDataDir(onionCfg, "")
}

func NewServiceForDaemonWithDataDir(onionCfg onion.Config, dataDir string) (*Service, error) {
	resolvedDir, secret, bundle, err := daemoncomposition.ResolveStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return newServiceForDaemonWithBundle(onionCfg, bundle, secret, resolvedDir)
}

func newServiceForDaemonWithBundle(onionCfg onion.Config, bundle daemoncomposition.StorageBundle, secret, dataDir string) (*Service, error) {
	svc, err := newServiceWithOptions(onionCfg, contracts.ServiceOptions{
		SessionStore: bundle.SessionStore,
		SkippedKeys:  bundle.SkippedKeys,
		Messages:     bundle.Messages,
		Requests:     bundle.Requests,
		Contacts:     bundle.Contacts,
		Ledger:       bundle.Ledger,
		Signers:      bundle.Signers,
		Logger:       runtimeapp.DefaultLogger(),
	})
	if err != nil {
		return nil, err
	}
	svc.identityState.Configure(bundle.IdentityPath, secret)
	if err := svc.identityState.Bootstrap(svc.identityManager); err != nil {
		return nil, err
	}
	svc.storageSecret = secret
	svc.dataDir = dataDir
	return svc, nil
}
