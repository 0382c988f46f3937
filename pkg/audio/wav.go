package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// wavHeaderSize is the size of the canonical RIFF header produced by
// EncodeWAV: RIFF chunk descriptor, fmt sub-chunk, data sub-chunk header.
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The transform is pure and deterministic: the same
// input always produces the same bytes, and the payload is carried verbatim
// after the 44-byte header.
//
// An empty pcm buffer is a caller contract violation — the segment assembler
// never emits empty segments — and panics.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if len(pcm) == 0 {
		panic("audio: EncodeWAV called with empty PCM payload")
	}
	bps := BytesPerSample * 8
	byteRate := sampleRate * channels * BytesPerSample
	blockAlign := channels * BytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// WAVInfo describes the format metadata decoded from a WAV header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// DecodeWAV parses a RIFF/WAV container produced by [EncodeWAV] (or any
// standard encoder writing 16-bit PCM) and returns the raw PCM payload and
// its format metadata. The returned slice aliases data.
func DecodeWAV(data []byte) ([]byte, WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, WAVInfo{}, errors.New("audio: wav data shorter than header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, WAVInfo{}, errors.New("audio: missing RIFF/WAVE magic")
	}
	if string(data[12:16]) != "fmt " {
		return nil, WAVInfo{}, errors.New("audio: missing fmt sub-chunk")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, WAVInfo{}, fmt.Errorf("audio: unsupported wav format %d (want PCM)", format)
	}

	info := WAVInfo{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(data[34:36])),
	}
	if info.BitDepth != 16 {
		return nil, WAVInfo{}, fmt.Errorf("audio: unsupported bit depth %d", info.BitDepth)
	}

	// Locate the data sub-chunk. Some encoders insert extra chunks (LIST,
	// fact) between fmt and data, so scan rather than assume offset 36.
	off := 12 + 8 + int(binary.LittleEndian.Uint32(data[16:20]))
	for {
		if off+8 > len(data) {
			return nil, WAVInfo{}, errors.New("audio: no data sub-chunk found")
		}
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == "data" {
			if off+8+size > len(data) {
				return nil, WAVInfo{}, errors.New("audio: data sub-chunk truncated")
			}
			pcm := data[off+8 : off+8+size]
			info.Duration = PCMDuration(len(pcm), info.SampleRate, info.Channels)
			return pcm, info, nil
		}
		off += 8 + size
	}
}
