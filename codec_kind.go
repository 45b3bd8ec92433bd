package gomp4mux

import (
	"strconv"
)

// CodecKind is the video codec of a session.
type CodecKind int

// codec kinds.
const (
	CodecKindH264 CodecKind = iota + 1
	CodecKindH265
)

// String implements fmt.Stringer.
func (k CodecKind) String() string {
	switch k {
	case CodecKindH264:
		return "H264"
	case CodecKindH265:
		return "H265"
	}
	return "unknown (" + strconv.FormatInt(int64(k), 10) + ")"
}
