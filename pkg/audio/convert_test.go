package audio

import (
	"encoding/binary"
	"testing"
)

func TestStereoToMono_Averages(t *testing.T) {
	// One stereo frame: L=100, R=300 → mono 200.
	in := make([]byte, 4)
	binary.LittleEndian.PutUint16(in[0:2], uint16(int16(100)))
	binary.LittleEndian.PutUint16(in[2:4], uint16(int16(300)))

	out := StereoToMono(in)
	if len(out) != 2 {
		t.Fatalf("out length = %d, want 2", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out)); got != 200 {
		t.Errorf("mono sample = %d, want 200", got)
	}
}

func TestStereoToMono_Clamps(t *testing.T) {
	in := make([]byte, 4)
	binary.LittleEndian.PutUint16(in[0:2], 0x8000) // -32768
	binary.LittleEndian.PutUint16(in[2:4], 0x8000)

	out := StereoToMono(in)
	if got := int16(binary.LittleEndian.Uint16(out)); got != -32768 {
		t.Errorf("mono sample = %d, want -32768", got)
	}
}

func TestResampleMono16_SameRateIsIdentity(t *testing.T) {
	in := sinePCM(480, 16000)
	out := ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestResampleMono16_HalvesSampleCount(t *testing.T) {
	in := sinePCM(960, 32000)
	out := ResampleMono16(in, 32000, 16000)
	if len(out) != 960 { // 480 samples → 960 bytes
		t.Errorf("out length = %d bytes, want 960", len(out))
	}
}

func TestConverter_FastPath(t *testing.T) {
	c := Converter{Target: Format{SampleRate: 16000, Channels: 1}}
	in := sinePCM(480, 16000)
	out := c.Convert(in, Format{SampleRate: 16000, Channels: 1})
	if &out[0] != &in[0] {
		t.Error("matching format should return the input unchanged")
	}
}

func TestConverter_StereoDownmixAndResample(t *testing.T) {
	c := Converter{Target: Format{SampleRate: 16000, Channels: 1}}
	in := make([]byte, 4800*4) // 4800 stereo frames at 48 kHz = 100 ms
	out := c.Convert(in, Format{SampleRate: 48000, Channels: 2})
	if want := 1600 * 2; len(out) != want { // 100 ms mono at 16 kHz
		t.Errorf("out length = %d, want %d", len(out), want)
	}
}

func TestConverter_OddLengthDropped(t *testing.T) {
	c := Converter{Target: Format{SampleRate: 16000, Channels: 1}}
	if out := c.Convert(make([]byte, 3), Format{SampleRate: 16000, Channels: 1}); out != nil {
		t.Error("odd-length buffer should be dropped")
	}
}
