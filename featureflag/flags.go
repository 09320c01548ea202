package featureflag

type Flag string

const (
	FlagDisableHorizonCull   Flag = "DISABLE_HORIZON_CULL"
	FlagDisableEdgeStitching Flag = "DISABLE_EDGE_STITCHING"
	FlagDisablePruning       Flag = "DISABLE_PRUNING"
	FlagDisableImagery       Flag = "DISABLE_IMAGERY"
	FlagDisableTerrain       Flag = "DISABLE_TERRAIN"
	FlagDisableFeed          Flag = "DISABLE_FEED"
)

// Known lists the flags read by the engine.
var Known = []Flag{
	FlagDisableHorizonCull,
	FlagDisableEdgeStitching,
	FlagDisablePruning,
	FlagDisableImagery,
	FlagDisableTerrain,
	FlagDisableFeed,
}
