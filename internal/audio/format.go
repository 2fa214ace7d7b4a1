package audio

import "fmt"

// Encoding identifies the sample encoding of a stream
type Encoding string

const (
	EncodingLPCM Encoding = "LPCM"
	EncodingOpus Encoding = "OPUS"
)

// Endianness of multi-byte samples
type Endianness string

const (
	LittleEndian Endianness = "LITTLE"
	BigEndian    Endianness = "BIG"
)

// Format describes the audio carried by a Stream. Keyword detectors expect
// 16-bit little-endian LPCM at 16 kHz mono, but this is a convention of the
// producer and is not enforced by the stream itself.
type Format struct {
	Encoding          Encoding   `json:"encoding" yaml:"encoding"`
	Endianness        Endianness `json:"endianness" yaml:"endianness"`
	SampleRateHz      int        `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	SampleSizeInBits  int        `json:"sample_size_bits" yaml:"sample_size_bits"`
	NumChannels       int        `json:"num_channels" yaml:"num_channels"`
	DataSigned        bool       `json:"data_signed" yaml:"data_signed"`
	InterleavedLayout bool       `json:"interleaved" yaml:"interleaved"`
}

// DefaultFormat returns 16 kHz mono signed 16-bit little-endian LPCM
func DefaultFormat() Format {
	return Format{
		Encoding:          EncodingLPCM,
		Endianness:        LittleEndian,
		SampleRateHz:      16000,
		SampleSizeInBits:  16,
		NumChannels:       1,
		DataSigned:        true,
		InterleavedLayout: true,
	}
}

// WordSize returns the size of one sample in bytes
func (f Format) WordSize() int {
	return f.SampleSizeInBits / 8
}

// SamplesPer returns the number of words covering ms milliseconds
func (f Format) SamplesPer(ms int) int {
	return f.SampleRateHz * f.NumChannels * ms / 1000
}

// IsKeywordCompatible reports whether the format matches what keyword
// engines consume (16-bit little-endian LPCM, 16 kHz, mono)
func (f Format) IsKeywordCompatible() bool {
	return f.Encoding == EncodingLPCM &&
		f.Endianness == LittleEndian &&
		f.SampleRateHz == 16000 &&
		f.SampleSizeInBits == 16 &&
		f.NumChannels == 1
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dbit/%s/%dHz/%dch", f.Encoding, f.SampleSizeInBits, f.Endianness, f.SampleRateHz, f.NumChannels)
}
