package gomp4mux

// ContainerFormat is the format of the output file.
type ContainerFormat int

// container formats.
const (
	// progressive MP4, with sample tables written at the end.
	ContainerFormatMP4 ContainerFormat = iota + 1

	// fragmented MP4.
	ContainerFormatFMP4

	// MPEG-TS.
	ContainerFormatMPEGTS
)
