package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FormatIEEEFloat is the WAVE format tag for IEEE 754 float samples.
const FormatIEEEFloat = 3

const floatBitDepth = 32

// floatHeaderSize covers RIFF, an 18-byte fmt chunk, a fact chunk and the
// data chunk header.
const floatHeaderSize = 12 + (8 + 18) + (8 + 4) + 8

// ErrNotFloatWAV is returned by DecodeWAVFloat32 for anything other than
// 32-bit IEEE float WAV.
var ErrNotFloatWAV = errors.New("not a 32-bit float WAV")

// EncodeWAVFloat32 writes mono samples as 32-bit IEEE float WAV. Samples are
// stored as-is, without clipping.
func EncodeWAVFloat32(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	const (
		channels   = Channels
		blockAlign = channels * floatBitDepth / 8
	)

	dataSize := len(samples) * blockAlign
	if uint64(floatHeaderSize-8+dataSize) > math.MaxUint32 {
		return nil, fmt.Errorf("float WAV too large: %d samples", len(samples))
	}

	out := make([]byte, floatHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(floatHeaderSize-8+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 18)
	binary.LittleEndian.PutUint16(out[20:22], FormatIEEEFloat)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], floatBitDepth)
	binary.LittleEndian.PutUint16(out[36:38], 0) // cbSize

	// Non-PCM formats carry a fact chunk with the frame count.
	copy(out[38:42], "fact")
	binary.LittleEndian.PutUint32(out[42:46], 4)
	binary.LittleEndian.PutUint32(out[46:50], uint32(len(samples)))

	copy(out[50:54], "data")
	binary.LittleEndian.PutUint32(out[54:58], uint32(dataSize))

	body := out[floatHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(s))
	}

	return out, nil
}

// wavFormat is the subset of a fmt chunk needed to read float data.
type wavFormat struct {
	tag        uint16
	channels   uint16
	sampleRate uint32
	bitDepth   uint16
}

// readChunks walks the RIFF chunk list and returns the fmt fields and the
// data chunk payload.
func readChunks(data []byte) (wavFormat, []byte, error) {
	var f wavFormat

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return f, nil, errors.New("invalid WAV file")
	}

	var (
		body    []byte
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		if size < 0 || start+size > len(data) {
			return f, nil, fmt.Errorf("chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return f, nil, fmt.Errorf("fmt chunk is %d bytes", size)
			}
			c := data[start:]
			f = wavFormat{
				tag:        binary.LittleEndian.Uint16(c[0:2]),
				channels:   binary.LittleEndian.Uint16(c[2:4]),
				sampleRate: binary.LittleEndian.Uint32(c[4:8]),
				bitDepth:   binary.LittleEndian.Uint16(c[14:16]),
			}
			haveFmt = true
		case "data":
			body = data[start : start+size]
		}

		// Chunks are word aligned.
		off = start + size + size%2
	}

	if !haveFmt || body == nil {
		return f, nil, errors.New("invalid WAV file: missing fmt or data chunk")
	}

	return f, body, nil
}

// IsFloatWAV reports whether data is a WAV file with IEEE float samples.
func IsFloatWAV(data []byte) bool {
	f, _, err := readChunks(data)
	return err == nil && f.tag == FormatIEEEFloat
}

// DecodeWAVFloat32 reads a mono 32-bit float WAV and returns its samples and
// sample rate.
func DecodeWAVFloat32(data []byte) ([]float32, int, error) {
	f, body, err := readChunks(data)
	if err != nil {
		return nil, 0, err
	}

	if f.tag != FormatIEEEFloat || f.bitDepth != floatBitDepth {
		return nil, 0, fmt.Errorf("%w: format %d, %d-bit", ErrNotFloatWAV, f.tag, f.bitDepth)
	}
	if f.channels != Channels {
		return nil, 0, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, f.channels, Channels)
	}

	samples := make([]float32, len(body)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}

	return samples, int(f.sampleRate), nil
}
