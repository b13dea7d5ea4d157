package format

// SegmentRef names one data segment and the target key its store lives
// under (spec §3 "Placement manifest").
type SegmentRef struct {
	Name      string `json:"name"`
	TargetKey string `json:"targetKey"`
}

// Manifest is the `<base>.manifest.json` document: the segment→target
// mapping in effect at a given commit (spec §4.8 "Manifest").
type Manifest struct {
	Base     string       `json:"base"`
	Segments []SegmentRef `json:"segments"`
	Crush    any          `json:"crush,omitempty"`
	Epoch    uint64       `json:"epoch"`
	CommitTs int64        `json:"commitTs"`
}

// Head is the `<base>.head.json` document: the current manifest pointer
// plus the epoch/commitTs readers use for bounded-staleness selection
// (spec §4.8 "HEAD").
type Head struct {
	Manifest string `json:"manifest"`
	Epoch    uint64 `json:"epoch"`
	CommitTs int64  `json:"commitTs"`
}

// Catalog is the `<base>.catalog.json` document: the fixed shape
// parameters needed to reconstruct a fresh VectorState before replaying
// data (spec §4.8 "Catalog").
type Catalog struct {
	Version      int    `json:"version"`
	Dim          uint32 `json:"dim"`
	MetricCode   uint32 `json:"metricCode"`
	StrategyCode uint32 `json:"strategyCode"`
}
