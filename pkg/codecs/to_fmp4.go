package codecs

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// ToFMP4 converts a codec in its fMP4 equivalent.
func ToFMP4(in Codec) mp4.Codec {
	switch in := in.(type) {
	case *H265:
		return &mp4.CodecH265{
			VPS: in.VPS,
			SPS: in.SPS,
			PPS: in.PPS,
		}

	case *H264:
		return &mp4.CodecH264{
			SPS: in.SPS,
			PPS: in.PPS,
		}

	case *MPEG4Audio:
		return &mp4.CodecMPEG4Audio{
			Config: in.Config,
		}
	}

	return nil
}
