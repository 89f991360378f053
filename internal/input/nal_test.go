package input

import "testing"

func TestSplitAnnexBFindsUnits(t *testing.T) {
	buf := []byte{}
	buf = append(buf, startCode4...)
	buf = append(buf, 0x67, 0x01, 0x02) // SPS (type 7)
	buf = append(buf, startCode4...)
	buf = append(buf, 0x68, 0x03) // PPS (type 8)
	buf = append(buf, startCode4...)
	buf = append(buf, 0x65, 0x04, 0x05) // IDR slice (type 5)

	units := splitAnnexB(buf)
	if len(units) != 3 {
		t.Fatalf("splitAnnexB found %d units, want 3", len(units))
	}
	if units[0].nalType() != nalTypeSPS || units[1].nalType() != nalTypePPS || units[2].nalType() != nalTypeIDR {
		t.Fatalf("unit types = [%d %d %d], want [7 8 5]", units[0].nalType(), units[1].nalType(), units[2].nalType())
	}
}

func TestSplitAnnexBTolerates3ByteStartCode(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0x65, 0xAA}
	units := splitAnnexB(buf)
	if len(units) != 1 {
		t.Fatalf("splitAnnexB found %d units, want 1", len(units))
	}
	if units[0].nalType() != nalTypeIDR {
		t.Fatalf("unit type = %d, want 5", units[0].nalType())
	}
}

func TestContainsKeyframe(t *testing.T) {
	withIDR := []nalUnit{{data: []byte{0x67}}, {data: []byte{0x65}}}
	if !containsKeyframe(withIDR) {
		t.Fatalf("containsKeyframe() = false, want true")
	}

	withoutIDR := []nalUnit{{data: []byte{0x67}}, {data: []byte{0x61}}}
	if containsKeyframe(withoutIDR) {
		t.Fatalf("containsKeyframe() = true, want false")
	}
}

func TestIsAccessUnitBoundary(t *testing.T) {
	slice := nalUnit{data: []byte{0x61}} // non-IDR slice, type 1
	if !isAccessUnitBoundary(&slice, nalTypeIDR) {
		t.Fatalf("isAccessUnitBoundary(slice, IDR) = false, want true")
	}
	if isAccessUnitBoundary(nil, nalTypeIDR) {
		t.Fatalf("isAccessUnitBoundary(nil, IDR) = true, want false")
	}

	sps := nalUnit{data: []byte{0x67}}
	if isAccessUnitBoundary(&sps, nalTypeSPS) {
		t.Fatalf("isAccessUnitBoundary(sps, sps) = true, want false — parameter sets don't close a unit on their own")
	}
}

func TestJoinAnnexBRoundTrips(t *testing.T) {
	units := []nalUnit{{data: []byte{0x67, 0x01}}, {data: []byte{0x65, 0x02}}}
	joined := joinAnnexB(units)

	got := splitAnnexB(joined)
	if len(got) != 2 {
		t.Fatalf("splitAnnexB(joinAnnexB(units)) found %d units, want 2", len(got))
	}
}
