package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidWAV = errors.New("invalid WAV data")

// wavFmtChunk is the PCM "fmt " chunk body
type wavFmtChunk struct {
	AudioFormat   uint16 // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
}

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// Format converts the WAV header into a stream Format
func (i *WAVInfo) Format() Format {
	return Format{
		Encoding:          EncodingLPCM,
		Endianness:        LittleEndian,
		SampleRateHz:      int(i.SampleRate),
		SampleSizeInBits:  int(i.BitsPerSample),
		NumChannels:       int(i.Channels),
		DataSigned:        i.BitsPerSample > 8,
		InterleavedLayout: true,
	}
}

// EncodeWAV encodes mono PCM-16 samples as a canonical 44-byte-header WAV
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, wavFmtChunk{
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV reads a mono 16-bit PCM WAV file. Chunks other than "fmt " and
// "data" (LIST, fact, ...) are skipped.
func DecodeWAV(r io.Reader) ([]int16, *WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, nil, fmt.Errorf("%w: reading RIFF header: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(riff[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		fmtChunk *wavFmtChunk
		info     *WAVInfo
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
			}
			return nil, nil, fmt.Errorf("%w: reading chunk header: %v", ErrInvalidWAV, err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrInvalidWAV, size)
			}
			var fc wavFmtChunk
			if err := binary.Read(r, binary.LittleEndian, &fc); err != nil {
				return nil, nil, fmt.Errorf("%w: reading fmt chunk: %v", ErrInvalidWAV, err)
			}
			if err := skip(r, int64(size-16)+int64(size&1)); err != nil {
				return nil, nil, err
			}
			fmtChunk = &fc

		case "data":
			if fmtChunk == nil {
				return nil, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			if err := checkPCM16Mono(fmtChunk); err != nil {
				return nil, nil, err
			}
			numSamples := int(size) / 2
			if numSamples <= 0 {
				return nil, nil, fmt.Errorf("%w: no audio data found", ErrInvalidWAV)
			}
			samples := make([]int16, numSamples)
			if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
				return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
			}
			info = &WAVInfo{
				SampleRate:    fmtChunk.SampleRate,
				Channels:      fmtChunk.NumChannels,
				BitsPerSample: fmtChunk.BitsPerSample,
				Duration:      float64(numSamples) / float64(fmtChunk.SampleRate),
				DataSize:      size,
				NumSamples:    uint32(numSamples),
			}
			return samples, info, nil

		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return nil, nil, err
			}
		}
	}
}

// GetWAVInfo decodes data and returns only its metadata
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	_, info, err := DecodeWAV(bytes.NewReader(data))
	return info, err
}

func checkPCM16Mono(fc *wavFmtChunk) error {
	if fc.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", fc.AudioFormat)
	}
	if fc.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", fc.BitsPerSample)
	}
	if fc.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", fc.NumChannels)
	}
	if fc.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate is 0", ErrInvalidWAV)
	}
	return nil
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("%w: skipping %d bytes: %v", ErrInvalidWAV, n, err)
	}
	return nil
}
