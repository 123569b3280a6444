package audio_test

import (
	"testing"

	"github.com/rentline/voicebridge/pkg/audio"
)

func TestUpsample8kTo16k_Interpolates(t *testing.T) {
	in := samplesToBytes([]int16{0, 100, 200})
	got := bytesToSamples(audio.Upsample8kTo16k(in))
	want := []int16{0, 50, 100, 150, 200, 200}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

// TestUpsample8kTo16k_ConstantInput verifies there is no interpolation drift
// on silence or any other constant signal: a constant buffer of N samples
// yields exactly 2N samples of the same constant.
func TestUpsample8kTo16k_ConstantInput(t *testing.T) {
	for _, c := range []int16{0, -1, 1234, -32768, 32767} {
		in := make([]int16, 160)
		for i := range in {
			in[i] = c
		}
		got := bytesToSamples(audio.Upsample8kTo16k(samplesToBytes(in)))
		if len(got) != 320 {
			t.Fatalf("constant %d: length = %d, want 320", c, len(got))
		}
		for i, s := range got {
			if s != c {
				t.Fatalf("constant %d: sample %d = %d", c, i, s)
			}
		}
	}
}

func TestUpsample8kTo16k_Empty(t *testing.T) {
	if out := audio.Upsample8kTo16k(nil); len(out) != 0 {
		t.Errorf("length = %d, want 0", len(out))
	}
}

func TestDownsample16kTo8k_Decimates(t *testing.T) {
	in := samplesToBytes([]int16{10, 11, 20, 21, 30})
	got := bytesToSamples(audio.Downsample16kTo8k(in))
	want := []int16{10, 20}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownsample16kTo8k_OddSampleCount(t *testing.T) {
	// ⌊M/2⌋ output samples for M input samples.
	for samples, wantOut := range map[int]int{0: 0, 1: 0, 2: 1, 7: 3, 640: 320} {
		in := make([]byte, samples*2)
		out := audio.Downsample16kTo8k(in)
		if len(out) != wantOut*2 {
			t.Errorf("%d samples: got %d out, want %d", samples, len(out)/2, wantOut)
		}
	}
}

// TestTelephonyFramePipeline mirrors the uplink path: a 320-byte µ-law frame
// (40 ms at 8 kHz) decodes to 320 PCM samples and upsamples to exactly 640.
func TestTelephonyFramePipeline(t *testing.T) {
	frame := make([]byte, 320)
	for i := range frame {
		frame[i] = byte(i)
	}
	pcm8k := audio.DecodeMuLaw(frame)
	if len(pcm8k) != 320*2 {
		t.Fatalf("decoded samples = %d, want 320", len(pcm8k)/2)
	}
	pcm16k := audio.Upsample8kTo16k(pcm8k)
	if len(pcm16k) != 640*2 {
		t.Fatalf("upsampled samples = %d, want 640", len(pcm16k)/2)
	}
}
