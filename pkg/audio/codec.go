package audio

import "strings"

// Codec identifies the compressed audio codec a decoder detected in its input.
type Codec uint8

const (
	// CodecNone means no codec was detected. Decoders report it when the input
	// could not be detected; callers treat it as "unchanged".
	CodecNone Codec = iota

	// CodecAAC is Advanced Audio Coding, typically inside MP4/M4A containers.
	CodecAAC

	// CodecMP3 is MPEG-1/2 Audio Layer III.
	CodecMP3

	// CodecOpus is Opus, typically inside Ogg or WebM containers.
	CodecOpus

	// CodecPCM is uncompressed linear PCM (e.g. WAV).
	CodecPCM
)

// IsSome reports whether c identifies a detected codec.
func (c Codec) IsSome() bool {
	return c != CodecNone
}

// Byte returns the compact wire representation of c.
func (c Codec) Byte() byte {
	return byte(c)
}

// CodecFromByte decodes the compact representation produced by [Codec.Byte].
// Unknown non-zero values map to [CodecOpus], the most common streaming codec.
func CodecFromByte(b byte) Codec {
	switch Codec(b) {
	case CodecNone, CodecAAC, CodecMP3, CodecOpus, CodecPCM:
		return Codec(b)
	}
	return CodecOpus
}

// ParseCodec maps a codec name as printed by ffmpeg (e.g. "aac", "mp3",
// "opus", "pcm_s16le") to a [Codec]. Unrecognised names yield [CodecNone].
func ParseCodec(name string) Codec {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "aac":
		return CodecAAC
	case name == "mp3" || name == "mp3float":
		return CodecMP3
	case name == "opus" || name == "libopus":
		return CodecOpus
	case strings.HasPrefix(name, "pcm_"):
		return CodecPCM
	}
	return CodecNone
}

// String returns the lower-case codec name.
func (c Codec) String() string {
	switch c {
	case CodecAAC:
		return "aac"
	case CodecMP3:
		return "mp3"
	case CodecOpus:
		return "opus"
	case CodecPCM:
		return "pcm"
	default:
		return "none"
	}
}

// MarshalText implements [encoding.TextMarshaler] so codecs render by name in
// JSON payloads.
func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
