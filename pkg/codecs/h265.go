package codecs

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// H265 is a H265 codec.
type H265 struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// IsVideo implements Codec.
func (*H265) IsVideo() bool {
	return true
}

func (*H265) isCodec() {}

// Dimensions returns the picture size, extracted from the SPS.
func (c *H265) Dimensions() (int, int, error) {
	var sps h265.SPS
	err := sps.Unmarshal(c.SPS)
	if err != nil {
		return 0, 0, err
	}

	return sps.Width(), sps.Height(), nil
}
