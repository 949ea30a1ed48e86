package common

const (
	ComponentPipeline     = "pipeline"
	ComponentProjector    = "projector"
	ComponentEntityStore  = "entity-store"
	ComponentReorgManager = "reorg-manager"
	ComponentChainClient  = "chain-client"
	ComponentDecoder      = "decoder"
	ComponentMaintenance  = "maintenance"
	ComponentAPI          = "api"
)

var AllComponents = map[string]struct{}{
	ComponentPipeline:     {},
	ComponentProjector:    {},
	ComponentEntityStore:  {},
	ComponentReorgManager: {},
	ComponentChainClient:  {},
	ComponentDecoder:      {},
	ComponentMaintenance:  {},
	ComponentAPI:          {},
}
