package resegment

import (
	"fmt"
	"math"
	"strings"
)

// segmentName returns the published name for a segment index.
func segmentName(index uint64) string {
	return fmt.Sprintf("segment%d.m4s", index)
}

// generatePlaylist renders the sliding-window media playlist.
//
// The window is [nextIndex-len(window), nextIndex) with durations in seconds
// listed oldest first. TARGETDURATION is the ceiling of the largest EXTINF in
// the window, floored at the configured target. A discontinuity index gets an
// EXT-X-DISCONTINUITY tag and a repeated EXT-X-MAP before its segment.
func generatePlaylist(window []float64, nextIndex uint64, targetDurationS int,
	initVersion uint32, discontinuities map[uint64]bool) []byte {

	firstIndex := nextIndex - uint64(len(window))
	maxDur := float64(targetDurationS)
	for _, d := range window {
		if d > maxDur {
			maxDur = d
		}
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(maxDur)))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", firstIndex)
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"init.mp4?v=%d\"\n", initVersion)
	for i, d := range window {
		index := firstIndex + uint64(i)
		if discontinuities[index] {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
			fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"init.mp4?v=%d\"\n", initVersion)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", d)
		fmt.Fprintf(&b, "%s\n", segmentName(index))
	}
	return []byte(b.String())
}
