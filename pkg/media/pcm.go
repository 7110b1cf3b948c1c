package media

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

// Resample converts audio from one sample rate to another using linear
// interpolation. Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)

	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		s1 := float64(samples[idx])
		s2 := float64(samples[idx+1])
		out[i] = int16(s1 + frac*(s2-s1))
	}
	return out
}

// BytesToSamples converts PCM16 little-endian bytes to samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// EncodeWAV wraps PCM16 samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	writeWAVHeader(&buf, len(samples)*2, sampleRate, channels)
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func writeWAVHeader(buf *bytes.Buffer, dataSize, sampleRate, channels int) {
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}

// PCMRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000". It returns def when absent.
func PCMRate(mimeType string, def int) int {
	for _, p := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return def
}

// IsPCM reports whether mimeType names raw PCM audio.
func IsPCM(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	return base == MIMEPCM || base == "audio/l16"
}

// Playable converts raw PCM audio into WAV so a browser can play it.
// Other formats are returned unchanged.
func Playable(data []byte, mimeType string) ([]byte, string) {
	if !IsPCM(mimeType) {
		return data, mimeType
	}
	rate := PCMRate(mimeType, 24000)
	var buf bytes.Buffer
	writeWAVHeader(&buf, len(data), rate, 1)
	buf.Write(data)
	return buf.Bytes(), MIMEWAV
}
