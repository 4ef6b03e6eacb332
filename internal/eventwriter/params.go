package eventwriter

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// paramSets remembers the latest SPS and PPS of a stream and re-inserts
// them in front of IDR access units that arrive without them, so every clip
// starts decodable.
type paramSets struct {
	sps []byte
	pps []byte
}

// extract stores any SPS or PPS found in au.
func (p *paramSets) extract(au [][]byte) {
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if !bytes.Equal(p.sps, nalu) {
				p.sps = bytes.Clone(nalu)
			}
		case h264.NALUTypePPS:
			if !bytes.Equal(p.pps, nalu) {
				p.pps = bytes.Clone(nalu)
			}
		}
	}
}

// prependToKeyframe returns au with SPS and PPS in front when au holds an
// IDR slice but lacks either parameter set. An access-unit delimiter stays
// first.
func (p *paramSets) prependToKeyframe(au [][]byte) [][]byte {
	if p.sps == nil || p.pps == nil {
		return au
	}
	idr, hasSPS, hasPPS := false, false, false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeIDR:
			idr = true
		case h264.NALUTypeSPS:
			hasSPS = true
		case h264.NALUTypePPS:
			hasPPS = true
		}
	}
	if !idr || (hasSPS && hasPPS) {
		return au
	}
	out := make([][]byte, 0, len(au)+2)
	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeAccessUnitDelimiter {
			out = append(out, nalu)
		}
	}
	out = append(out, p.sps, p.pps)
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS:
			continue
		}
		out = append(out, nalu)
	}
	return out
}
