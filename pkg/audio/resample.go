package audio

// Upsample8kTo16k doubles the sample rate of 16-bit mono PCM by linear
// interpolation: each input sample is emitted followed by the average of
// itself and its successor. The final sample is duplicated. The output holds
// exactly twice as many samples as the input. Not anti-alias filtered;
// acceptable for narrowband voice.
func Upsample8kTo16k(pcm []byte) []byte {
	samples := len(pcm) / 2
	if samples == 0 {
		return nil
	}
	out := make([]byte, samples*4)
	for i := range samples {
		s0 := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		s1 := s0
		if i+1 < samples {
			s1 = int16(pcm[(i+1)*2]) | int16(pcm[(i+1)*2+1])<<8
		}
		mid := int16((int32(s0) + int32(s1)) / 2)

		j := i * 4
		out[j] = byte(s0)
		out[j+1] = byte(s0 >> 8)
		out[j+2] = byte(mid)
		out[j+3] = byte(mid >> 8)
	}
	return out
}

// Downsample16kTo8k halves the sample rate of 16-bit mono PCM by keeping
// every even-indexed sample (nearest-neighbour decimation, no filtering).
// The output holds ⌊samples/2⌋ samples.
func Downsample16kTo8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, (samples/2)*2)
	for i := 0; i < samples/2; i++ {
		out[i*2] = pcm[i*4]
		out[i*2+1] = pcm[i*4+1]
	}
	return out
}
