package resegment

import (
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Sample flag layout per ISO/IEC 14496-12 section 8.8.3.1.
const (
	sampleFlagIsNonSyncSample = 1 << 16
	sampleDependsOnShift      = 24
	sampleDependsOnMask       = 0x3
)

// moofKeyframeStatus classifies the first sample of a moof.
type moofKeyframeStatus int

const (
	keyframeIndeterminate moofKeyframeStatus = iota
	keyframeYes
	keyframeNo
)

// KeyframeStats is a read-only snapshot of the rolling keyframe diagnostics.
type KeyframeStats struct {
	Keyframes                      uint64  `json:"keyframes"`
	NonKeyframes                   uint64  `json:"nonKeyframes"`
	Indeterminate                  uint64  `json:"indeterminate"`
	SegmentsWithoutLeadingKeyframe uint64  `json:"segmentsWithoutLeadingKeyframe"`
	MinIntervalMS                  int64   `json:"minIntervalMS"`
	MaxIntervalMS                  int64   `json:"maxIntervalMS"`
	AvgIntervalMS                  float64 `json:"avgIntervalMS"`
}

// keyframeTracker keeps rolling keyframe statistics over the moofs of a
// pipeline. It never influences the segment cut policy.
type keyframeTracker struct {
	enabled       bool
	now           func() time.Time
	stats         KeyframeStats
	lastKeyframe  time.Time
	intervalCount uint64
	intervalSumMS int64
}

// classifyMoof determines the keyframe status from the first sample of the
// first traf. The flag source is, in order: per-sample trun flags, trun
// first-sample flags, tfhd default flags, trex default flags. With no flag
// source the status is indeterminate. A sample is a sync sample when
// sample_is_non_sync_sample is 0 and sample_depends_on is not 1.
func classifyMoof(moof *mp4.MoofBox, defaults map[uint32]trackDefaults) moofKeyframeStatus {
	if len(moof.Trafs) == 0 {
		return keyframeIndeterminate
	}
	traf := moof.Trafs[0]
	if traf.Tfhd == nil || len(traf.Truns) == 0 {
		return keyframeIndeterminate
	}
	trun := traf.Truns[0]
	var flags uint32
	switch {
	case trun.HasSampleFlags() && len(trun.Samples) > 0:
		flags = trun.Samples[0].Flags
	case trun.HasFirstSampleFlags():
		flags, _ = trun.FirstSampleFlags()
	case traf.Tfhd.HasDefaultSampleFlags():
		flags = traf.Tfhd.DefaultSampleFlags
	default:
		def, ok := defaults[traf.Tfhd.TrackID]
		if !ok || !def.hasFlags {
			return keyframeIndeterminate
		}
		flags = def.sampleFlags
	}
	dependsOn := (flags >> sampleDependsOnShift) & sampleDependsOnMask
	if flags&sampleFlagIsNonSyncSample == 0 && dependsOn != 1 {
		return keyframeYes
	}
	return keyframeNo
}

// observe records the keyframe status of a moof. firstOfSegment marks the
// first moof appended to a new segment buffer.
func (k *keyframeTracker) observe(status moofKeyframeStatus, firstOfSegment bool) {
	if !k.enabled {
		return
	}
	switch status {
	case keyframeYes:
		k.stats.Keyframes++
		now := k.now()
		if !k.lastKeyframe.IsZero() {
			intervalMS := now.Sub(k.lastKeyframe).Milliseconds()
			if k.intervalCount == 0 || intervalMS < k.stats.MinIntervalMS {
				k.stats.MinIntervalMS = intervalMS
			}
			if intervalMS > k.stats.MaxIntervalMS {
				k.stats.MaxIntervalMS = intervalMS
			}
			k.intervalCount++
			k.intervalSumMS += intervalMS
			k.stats.AvgIntervalMS = float64(k.intervalSumMS) / float64(k.intervalCount)
		}
		k.lastKeyframe = now
	case keyframeNo:
		k.stats.NonKeyframes++
	default:
		k.stats.Indeterminate++
	}
	if firstOfSegment && status != keyframeYes {
		k.stats.SegmentsWithoutLeadingKeyframe++
	}
}

// snapshot returns a copy of the current statistics.
func (k *keyframeTracker) snapshot() KeyframeStats {
	return k.stats
}
