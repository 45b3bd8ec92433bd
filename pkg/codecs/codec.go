// Package codecs contains the codec definitions used as track format descriptions.
package codecs

// Codec is a codec.
type Codec interface {
	// IsVideo returns whether the codec is a video one.
	IsVideo() bool

	isCodec()
}
