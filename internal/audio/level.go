package audio

import "math"

const (
	levelFloorDB = -60.0
	levelCeilDB  = 0.0
)

// Level computes a normalized 0..1 loudness sample from little-endian
// signed 16-bit PCM by mapping the chunk's RMS power onto a -60..0 dB
// window. Odd trailing bytes are ignored.
func Level(pcm []byte) float64 {
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		v := float64(sample) / 32768.0
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	if rms <= 0 {
		return 0
	}

	db := 20 * math.Log10(rms)
	if db < levelFloorDB {
		return 0
	}
	if db >= levelCeilDB {
		return 1
	}
	return (db - levelFloorDB) / (levelCeilDB - levelFloorDB)
}
