package resegment

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// decodeMoof decodes a raw top-level moof box.
func decodeMoof(data []byte) (*mp4.MoofBox, error) {
	sr := bits.NewFixedSliceReader(data)
	box, err := mp4.DecodeBoxSR(0, sr)
	if err != nil {
		return nil, fmt.Errorf("decode moof: %w", err)
	}
	moof, ok := box.(*mp4.MoofBox)
	if !ok {
		return nil, fmt.Errorf("expected moof box, got %q", box.Type())
	}
	return moof, nil
}

// rewriteMoof overwrites tfdt.baseMediaDecodeTime in every traf of the moof
// with the running counter for that track, and advances each counter by the
// traf's total sample duration summed over its trun boxes. Sample duration
// falls back to tfhd.defaultSampleDuration, then to the trex default, then to 0.
//
// tfdt is fixed width, so the box size normally stays the same. The one
// exception is a version-0 tfdt whose new time needs 64 bits. Trun data
// offsets address from the start of the moof, so any growth inside the moof
// moves the mdat payload for every traf; the offsets of all trafs are
// shifted by the total growth.
//
// On error, neither the moof nor the counters are touched and the caller
// should pass the original moof bytes through unmodified.
func rewriteMoof(moof *mp4.MoofBox, counters map[uint32]uint64, defaults map[uint32]trackDefaults,
) (map[uint32]uint64, error) {
	if len(moof.Trafs) == 0 {
		return nil, fmt.Errorf("no traf box in moof")
	}
	// Validate all trafs before mutating anything, so that a fault in one
	// traf does not leave the counters half advanced.
	for _, traf := range moof.Trafs {
		if traf.Tfhd == nil {
			return nil, fmt.Errorf("no tfhd box in traf")
		}
		if traf.Tfdt == nil {
			return nil, fmt.Errorf("no tfdt box in traf for track %d", traf.Tfhd.TrackID)
		}
		if len(traf.Truns) == 0 {
			return nil, fmt.Errorf("no trun box in traf for track %d", traf.Tfhd.TrackID)
		}
	}
	durations := make(map[uint32]uint64, len(moof.Trafs))
	var sizeDiff int32
	for _, traf := range moof.Trafs {
		trackID := traf.Tfhd.TrackID
		defaultDur := defaults[trackID].sampleDuration
		if traf.Tfhd.HasDefaultSampleDuration() {
			defaultDur = traf.Tfhd.DefaultSampleDuration
		}
		var dur uint64
		for _, trun := range traf.Truns {
			dur += trun.Duration(defaultDur)
		}
		oldTfdtSize := traf.Tfdt.Size()
		traf.Tfdt.SetBaseMediaDecodeTime(counters[trackID] + durations[trackID])
		sizeDiff += int32(traf.Tfdt.Size()) - int32(oldTfdtSize)
		durations[trackID] += dur
	}
	if sizeDiff != 0 {
		for _, traf := range moof.Trafs {
			for _, trun := range traf.Truns {
				trun.DataOffset += sizeDiff
			}
		}
	}
	for trackID, dur := range durations {
		counters[trackID] += dur
	}
	return durations, nil
}

// encodeMoof re-encodes a (rewritten) moof box to raw bytes.
func encodeMoof(moof *mp4.MoofBox) ([]byte, error) {
	sw := bits.NewFixedSliceWriter(int(moof.Size()))
	if err := moof.EncodeSW(sw); err != nil {
		return nil, fmt.Errorf("encode moof: %w", err)
	}
	return sw.Bytes(), nil
}
