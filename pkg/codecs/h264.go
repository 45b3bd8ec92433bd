package codecs

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// H264 is a H264 codec.
type H264 struct {
	SPS []byte
	PPS []byte
}

// IsVideo implements Codec.
func (*H264) IsVideo() bool {
	return true
}

func (*H264) isCodec() {}

// Dimensions returns the picture size, extracted from the SPS.
func (c *H264) Dimensions() (int, int, error) {
	var sps h264.SPS
	err := sps.Unmarshal(c.SPS)
	if err != nil {
		return 0, 0, err
	}

	return sps.Width(), sps.Height(), nil
}
