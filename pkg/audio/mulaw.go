// Package audio implements the codec conversions used by the voice bridge:
// G.711 µ-law companding (the 8-bit telephony format) to and from 16-bit
// linear PCM, plus the 8 kHz ⇄ 16 kHz resampling needed between the telephony
// leg and the voice-agent leg.
//
// All functions are pure and stateless. PCM buffers are little-endian int16
// samples (2 bytes per sample); µ-law buffers are one byte per sample. The
// companding tables are built once at package init and never mutated, so they
// are safe to share across concurrent call sessions without synchronisation.
package audio

import "math/bits"

const (
	// muLawBias is the companding bias of 33, applied in the 16-bit sample
	// domain (33 << 2).
	muLawBias = 33 << 2

	// muLawMax is the largest magnitude representable after biasing.
	muLawMax = 0x7FFF
)

// muLawDecodeTable maps each µ-law byte to its 16-bit linear PCM sample.
var muLawDecodeTable [256]int16

func init() {
	for i := range muLawDecodeTable {
		u := ^uint8(i)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		magnitude := ((int32(mantissa)<<1 | 0x21) << (exponent + 2)) - muLawBias
		if u&0x80 != 0 {
			magnitude = -magnitude
		}
		muLawDecodeTable[i] = int16(magnitude)
	}
}

// DecodeMuLaw expands µ-law telephony audio to 16-bit linear PCM.
// One input byte produces one little-endian int16 sample.
func DecodeMuLaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := muLawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeMuLaw compands 16-bit linear PCM into µ-law telephony audio.
// Each little-endian int16 sample produces one output byte. A trailing odd
// byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeMuLawSample(s)
	}
	return out
}

// encodeMuLawSample compands a single sample: take sign and magnitude, add
// the bias, clip, locate the exponent segment from the highest set bit,
// extract the 4-bit mantissa, and invert all bits.
func encodeMuLawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	v += muLawBias
	if v > muLawMax {
		v = muLawMax
	}
	exponent := uint(bits.Len32(uint32(v))) - 8
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | byte(exponent)<<4 | mantissa)
}
