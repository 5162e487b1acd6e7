package resegment

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// trackDefaults carries the trex defaults for one track,
// used as fallback for trun/tfhd values.
type trackDefaults struct {
	sampleDuration uint32
	sampleFlags    uint32
	hasFlags       bool
}

// moovInfo is the per-track data extracted once from the moov box.
type moovInfo struct {
	timescales map[uint32]uint32
	defaults   map[uint32]trackDefaults
}

// parseMoov extracts per-track timescales and trex defaults from a raw moov box.
// Malformed tracks are skipped, so the result may be partial or even empty.
func parseMoov(data []byte) (moovInfo, error) {
	mi := moovInfo{
		timescales: make(map[uint32]uint32),
		defaults:   make(map[uint32]trackDefaults),
	}
	sr := bits.NewFixedSliceReader(data)
	box, err := mp4.DecodeBoxSR(0, sr)
	if err != nil {
		return mi, fmt.Errorf("decode moov: %w", err)
	}
	moov, ok := box.(*mp4.MoovBox)
	if !ok {
		return mi, fmt.Errorf("expected moov box, got %q", box.Type())
	}
	for _, trak := range moov.Traks {
		if trak.Tkhd == nil || trak.Mdia == nil || trak.Mdia.Mdhd == nil {
			continue
		}
		mi.timescales[trak.Tkhd.TrackID] = trak.Mdia.Mdhd.Timescale
	}
	if moov.Mvex != nil {
		for _, trex := range moov.Mvex.Trexs {
			mi.defaults[trex.TrackID] = trackDefaults{
				sampleDuration: trex.DefaultSampleDuration,
				sampleFlags:    trex.DefaultSampleFlags,
				hasFlags:       true,
			}
		}
	}
	return mi, nil
}
