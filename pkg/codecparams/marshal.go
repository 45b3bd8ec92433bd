// Package codecparams contains utilities to deal with codec parameters.
package codecparams

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/bluenviron/gomp4mux/pkg/codecs"
)

func encodeProfileSpace(v uint8) string {
	switch v {
	case 1:
		return "A"
	case 2:
		return "B"
	case 3:
		return "C"
	}
	return ""
}

func encodeCompatibilityFlag(v [32]bool) string {
	var o uint32
	for i, b := range v {
		if b {
			o |= 1 << i
		}
	}
	return fmt.Sprintf("%x", o)
}

func encodeGeneralTierFlag(v uint8) string {
	if v > 0 {
		return "H"
	}
	return "L"
}

// packFlags packs flags into a byte, starting from the most significant bit.
func packFlags(flags ...bool) uint8 {
	var o uint8
	for i, f := range flags {
		if f {
			o |= 1 << (7 - i)
		}
	}
	return o
}

func encodeGeneralConstraintIndicatorFlags(v *h265.SPS_ProfileTierLevel) string {
	ret := []string{fmt.Sprintf("%x", packFlags(
		v.GeneralProgressiveSourceFlag,
		v.GeneralInterlacedSourceFlag,
		v.GeneralNonPackedConstraintFlag,
		v.GeneralFrameOnlyConstraintFlag,
		v.GeneralMax12bitConstraintFlag,
		v.GeneralMax10bitConstraintFlag,
		v.GeneralMax8bitConstraintFlag,
		v.GeneralMax422ChromeConstraintFlag,
	))}

	// the second byte is omitted when empty
	if o2 := packFlags(
		v.GeneralMax420ChromaConstraintFlag,
		v.GeneralMaxMonochromeConstraintFlag,
		v.GeneralIntraConstraintFlag,
		v.GeneralOnePictureOnlyConstraintFlag,
		v.GeneralLowerBitRateConstraintFlag,
		v.GeneralMax14BitConstraintFlag,
	); o2 != 0 {
		ret = append(ret, fmt.Sprintf("%x", o2))
	}

	return strings.Join(ret, ".")
}

// Marshal generates the codec parameters of a track, as defined in RFC6381.
func Marshal(codec codecs.Codec) string {
	switch tcodec := codec.(type) {
	case *codecs.H264:
		if len(tcodec.SPS) >= 4 {
			return "avc1." + hex.EncodeToString(tcodec.SPS[1:4])
		}

	case *codecs.H265:
		var sps h265.SPS
		if err := sps.Unmarshal(tcodec.SPS); err == nil {
			ptl := &sps.ProfileTierLevel
			return fmt.Sprintf("hvc1.%s%d.%s.%s%d.%s",
				encodeProfileSpace(ptl.GeneralProfileSpace),
				ptl.GeneralProfileIdc,
				encodeCompatibilityFlag(ptl.GeneralProfileCompatibilityFlag),
				encodeGeneralTierFlag(ptl.GeneralTierFlag),
				ptl.GeneralLevelIdc,
				encodeGeneralConstraintIndicatorFlags(ptl))
		}

	case *codecs.MPEG4Audio:
		// https://developer.mozilla.org/en-US/docs/Web/Media/Formats/codecs_parameter
		return fmt.Sprintf("mp4a.40.%d", tcodec.Config.Type)
	}

	return ""
}

// MarshalAll generates the codecs attribute of a MIME type, given a list of codecs.
// Codecs that cannot be encoded are skipped.
func MarshalAll(list []codecs.Codec) string {
	var ret []string
	for _, codec := range list {
		if enc := Marshal(codec); enc != "" {
			ret = append(ret, enc)
		}
	}
	return strings.Join(ret, ",")
}
