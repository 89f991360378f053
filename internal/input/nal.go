package input

import "bytes"

// H.264 NAL unit types relevant to access-unit assembly and keyframe
// detection. Adapted from the reference's AVCC/Annex-B helpers
// (internal/muxer/h264.go in the teacher tree), retargeted from
// AVCC→Annex-B conversion to Annex-B access-unit splitting since packets
// here arrive already in Annex-B form from the ffmpeg demux subprocess.
const (
	nalTypeSliceNonIDR = 1
	nalTypeSPS         = 7
	nalTypePPS         = 8
	nalTypeIDR         = 5
)

// startCode4 is the 4-byte Annex-B start code.
var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// nalUnit is one Annex-B NAL unit, start code excluded.
type nalUnit struct {
	data []byte
}

func (n nalUnit) nalType() uint8 {
	if len(n.data) == 0 {
		return 0
	}
	return n.data[0] & 0x1F
}

// splitAnnexB splits a buffer of concatenated, start-code-prefixed NAL
// units into individual units. It tolerates both 3- and 4-byte start
// codes.
func splitAnnexB(buf []byte) []nalUnit {
	var units []nalUnit
	offsets := findStartCodes(buf)
	for i, off := range offsets {
		start := off
		end := len(buf)
		if i+1 < len(offsets) {
			// Stop before the next unit's 00 00 01 start code; the extra
			// leading zero of a 4-byte start code is trimmed below.
			end = offsets[i+1] - 3
		}
		// Trim the trailing zero bytes that sometimes pad a unit boundary.
		for end > start && buf[end-1] == 0x00 {
			end--
		}
		if end > start {
			units = append(units, nalUnit{data: buf[start:end]})
		}
	}
	return units
}

// findStartCodes returns the byte offset immediately following each
// Annex-B start code found in buf (i.e. the first byte of each NAL unit).
func findStartCodes(buf []byte) []int {
	var offsets []int
	i := 0
	for i+2 < len(buf) {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			offsets = append(offsets, i+3)
			i += 3
			continue
		}
		if i+3 < len(buf) && buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 0 && buf[i+3] == 1 {
			offsets = append(offsets, i+4)
			i += 4
			continue
		}
		i++
	}
	return offsets
}

// isAccessUnitBoundary reports whether encountering nt (the NAL type of
// the next unit) should close out the access unit currently being
// assembled from prior (the last unit already appended to it). A new
// video coding layer NAL (IDR or non-IDR slice) starts a fresh access
// unit; parameter sets are accumulated into whichever access unit follows
// them.
func isAccessUnitBoundary(prior *nalUnit, nt uint8) bool {
	if prior == nil {
		return false
	}
	pt := prior.nalType()
	isVCL := pt == nalTypeIDR || pt == nalTypeSliceNonIDR
	nextIsVCL := nt == nalTypeIDR || nt == nalTypeSliceNonIDR
	return isVCL && (nextIsVCL || nt == nalTypeSPS || nt == nalTypePPS)
}

// containsKeyframe reports whether any unit in units is an IDR slice.
func containsKeyframe(units []nalUnit) bool {
	for _, u := range units {
		if u.nalType() == nalTypeIDR {
			return true
		}
	}
	return false
}

// joinAnnexB re-assembles units back into a single start-code-prefixed
// buffer, suitable as a Packet payload.
func joinAnnexB(units []nalUnit) []byte {
	var buf bytes.Buffer
	for _, u := range units {
		buf.Write(startCode4)
		buf.Write(u.data)
	}
	return buf.Bytes()
}
