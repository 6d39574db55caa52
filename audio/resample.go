package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Sample rates used on the two sides of the bridge.
const (
	SampleRate24kHz = 24000 // Rate of model audio output
	SampleRate16kHz = 16000 // Rate expected by the live API input
)

// ResamplePCM16 resamples PCM16 audio data from one sample rate to another
// using linear interpolation. Input and output are little-endian 16-bit
// signed PCM samples.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	if fromRate == toRate {
		result := make([]byte, len(input))
		copy(result, input)
		return result, nil
	}

	const bytesPerSample = 2
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not a multiple of %d bytes per sample", len(input), bytesPerSample)
	}

	numInputSamples := len(input) / bytesPerSample
	if numInputSamples == 0 {
		return []byte{}, nil
	}

	numOutputSamples := int(float64(numInputSamples) * float64(toRate) / float64(fromRate))
	if numOutputSamples == 0 {
		return []byte{}, nil
	}

	// PCM16 uses the full int16 range stored as unsigned bytes, so the
	// uint16<->int16 conversions below are intentional.
	inputSamples := make([]int16, numInputSamples)
	for i := 0; i < numInputSamples; i++ {
		inputSamples[i] = int16(binary.LittleEndian.Uint16(input[i*bytesPerSample:])) //nolint:gosec // Safe PCM16 conversion
	}

	outputSamples := make([]int16, numOutputSamples)
	ratio := float64(fromRate) / float64(toRate)

	for i := 0; i < numOutputSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= numInputSamples-1 {
			outputSamples[i] = inputSamples[numInputSamples-1]
		} else {
			s0 := float64(inputSamples[srcIdx])
			s1 := float64(inputSamples[srcIdx+1])
			outputSamples[i] = int16(s0 + frac*(s1-s0))
		}
	}

	output := make([]byte, numOutputSamples*bytesPerSample)
	for i := 0; i < numOutputSamples; i++ {
		//nolint:gosec // Safe PCM16 conversion
		binary.LittleEndian.PutUint16(output[i*bytesPerSample:], uint16(outputSamples[i]))
	}

	return output, nil
}

// Silence returns PCM16 mono silence of the given duration at the given
// rate, used to flush server-side endpointing at the end of a local turn.
func Silence(d time.Duration, sampleRate int) []byte {
	samples := int(d.Seconds() * float64(sampleRate))
	if samples < 0 {
		samples = 0
	}
	return make([]byte, samples*2)
}
