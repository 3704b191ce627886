package servicefactory

import (
	"umbra-chat/go-backend/internal/bootstrap/nodeconfig"
	"umbra-chat/go-backend/internal/composition/daemonservice"
	"umbra-chat/go-backend/internal/domains/contracts"
)

// BuildDaemonService composes a daemon-ready service from a config path
// and data dir.
func BuildDaemonService(configPath, dataDir string) (contracts.DaemonService, error) {
	return daemonservice.NewServiceForDaemonWithDataDir(nodeconfig.LoadFromPath(configPath), dataDir)
}
