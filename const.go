package tvboxagent

import "time"

// Polling layers.
const (
	DefaultUpdateInterval   = 60 * time.Second
	DefaultHighFreqInterval = 30 * time.Second
	DefaultLowFreqInterval  = 15 * time.Minute
	DefaultISGInterval      = 2 * time.Minute
	// DefaultOfflineSkip is how long a box that just went off is left alone.
	DefaultOfflineSkip = 5 * time.Minute
)

// Settle delays before an action's effect is re-queried.
const (
	volumeSettle       = 300 * time.Millisecond
	brightnessSettle   = 300 * time.Millisecond
	mediaPauseSettle   = 800 * time.Millisecond
	mediaPlaySettle    = 1800 * time.Millisecond
	appStartSettle     = 2 * time.Second
	castSettle         = 2 * time.Second
	powerOnSettle      = time.Second
	powerOffSettle     = 2 * time.Second
	powerOffRetryDelay = 500 * time.Millisecond
	powerOffRetries    = 3
	isgRestartSettle   = 3 * time.Second
	isgStopSettle      = time.Second
	isgClearSettle     = 2 * time.Second
)

// Option bounds enforced when options are loaded.
const (
	minMemoryThreshold = 50.0
	maxMemoryThreshold = 95.0
	minCPUThreshold    = 50.0
	maxCPUThreshold    = 99.0
	minUpdateInterval  = 30 * time.Second
	maxUpdateInterval  = 300 * time.Second
)
