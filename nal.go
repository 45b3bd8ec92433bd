package gomp4mux

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

const (
	// size of the length prefix that precedes every NAL unit.
	lengthPrefixSize = 4

	// last coded slice type of H265.
	h265MaxCodedType = 31

	// last IRAP type of H265, reserved types included.
	h265MaxIRAPType = 23
)

var (
	// ErrShortUnit is returned when a video unit is too short to contain a NAL header.
	ErrShortUnit = errors.New("unit is too short")

	// ErrUnsupportedCodec is returned when the codec of the session is not supported.
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// NALType is the classification of a NAL unit.
type NALType int

// NAL types.
const (
	NALTypeUnknown NALType = iota
	NALTypeVPS
	NALTypeSPS
	NALTypePPS
	NALTypeCoded
)

// String implements fmt.Stringer.
func (t NALType) String() string {
	switch t {
	case NALTypeVPS:
		return "VPS"
	case NALTypeSPS:
		return "SPS"
	case NALTypePPS:
		return "PPS"
	case NALTypeCoded:
		return "coded"
	}
	return "unknown"
}

type nalClass struct {
	typ NALType

	// raw NAL unit type.
	raw uint8

	// whether the unit can be decoded without previous units.
	randomAccess bool
}

func classifyH264(typ h264.NALUType) nalClass {
	c := nalClass{raw: uint8(typ)}

	switch {
	case typ <= h264.NALUTypeIDR:
		c.typ = NALTypeCoded
		c.randomAccess = (typ == h264.NALUTypeIDR)

	case typ == h264.NALUTypeSPS:
		c.typ = NALTypeSPS

	case typ == h264.NALUTypePPS:
		c.typ = NALTypePPS
	}

	return c
}

func classifyH265(typ h265.NALUType) nalClass {
	c := nalClass{raw: uint8(typ)}

	switch {
	case typ <= h265MaxCodedType:
		c.typ = NALTypeCoded
		c.randomAccess = (typ >= h265.NALUType_BLA_W_LP && typ <= h265MaxIRAPType)

	case typ == h265.NALUType_VPS_NUT:
		c.typ = NALTypeVPS

	case typ == h265.NALUType_SPS_NUT:
		c.typ = NALTypeSPS

	case typ == h265.NALUType_PPS_NUT:
		c.typ = NALTypePPS
	}

	return c
}

// classifyNAL classifies a length-prefixed NAL unit.
func classifyNAL(kind CodecKind, buf []byte) (nalClass, error) {
	switch kind {
	case CodecKindH264, CodecKindH265:
	default:
		return nalClass{}, fmt.Errorf("%w: %v", ErrUnsupportedCodec, kind)
	}

	if len(buf) <= lengthPrefixSize {
		return nalClass{}, fmt.Errorf("%w: %d bytes", ErrShortUnit, len(buf))
	}

	if kind == CodecKindH264 {
		return classifyH264(h264.NALUType(buf[lengthPrefixSize] & 0x1F)), nil
	}
	return classifyH265(h265.NALUType((buf[lengthPrefixSize] & 0x7E) >> 1)), nil
}
