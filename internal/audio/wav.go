// Package audio plays sound effects and synthesized speech. Decoding is
// plain RIFF/WAV (the TTS backend and the sound library both produce WAV);
// playback goes through an [Output] so the device layer stays swappable and
// testable. Loudness analysis for lip-sync lives here too.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Format describes decoded PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	// BitsPerSample is always 16 for supported files.
	BitsPerSample int
}

// bytesPerSecond returns the PCM data rate.
func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

var errNotWAV = errors.New("audio: not a RIFF/WAVE file")

// DecodeWAV scans the RIFF container in data and returns the format and the
// raw 16-bit PCM samples of the data chunk.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errNotWAV
	}

	var f Format
	foundFmt := false

	// Walk RIFF chunks after the 12-byte header.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(data) {
				fmtData := data[offset+8:]
				f.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				f.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				f.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return Format{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			if f.BitsPerSample != 16 {
				return Format{}, nil, fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
			}
			end := offset + 8 + chunkSize
			if end > len(data) {
				end = len(data)
			}
			return f, data[offset+8 : end], nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Format{}, nil, errors.New("audio: missing data chunk")
}

// readWAVHeader consumes the RIFF header and chunks from r up to and
// including the data chunk header, returning the format. The remaining bytes
// of r are the PCM stream.
func readWAVHeader(r io.Reader) (Format, error) {
	head := make([]byte, 12)
	if _, err := io.ReadFull(r, head); err != nil {
		return Format{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(head[0:4]) != "RIFF" || string(head[8:12]) != "WAVE" {
		return Format{}, errNotWAV
	}

	var f Format
	foundFmt := false
	chunkHead := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, chunkHead); err != nil {
			return Format{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		chunkID := string(chunkHead[0:4])
		chunkSize := int(binary.LittleEndian.Uint32(chunkHead[4:8]))

		if chunkID == "data" {
			if !foundFmt {
				return Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			if f.BitsPerSample != 16 {
				return Format{}, fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
			}
			return f, nil
		}

		body := make([]byte, chunkSize+chunkSize%2)
		if _, err := io.ReadFull(r, body); err != nil {
			return Format{}, fmt.Errorf("audio: read %q chunk: %w", chunkID, err)
		}
		if chunkID == "fmt " && chunkSize >= 16 {
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			foundFmt = true
		}
	}
}

// resample16 stretches or squeezes 16-bit PCM by the given speed factor
// using linear interpolation across frames. speed > 1 shortens the clip.
func resample16(pcm []byte, channels int, speed float64) []byte {
	if speed <= 0 || speed == 1 || channels <= 0 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	if frames < 2 {
		return pcm
	}
	outFrames := int(float64(frames) / speed)
	if outFrames < 1 {
		outFrames = 1
	}
	out := make([]byte, outFrames*frameBytes)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * speed
		j := int(pos)
		if j >= frames-1 {
			j = frames - 2
		}
		frac := pos - float64(j)
		for c := 0; c < channels; c++ {
			a := int16(binary.LittleEndian.Uint16(pcm[j*frameBytes+c*2:]))
			b := int16(binary.LittleEndian.Uint16(pcm[(j+1)*frameBytes+c*2:]))
			v := float64(a) + (float64(b)-float64(a))*frac
			binary.LittleEndian.PutUint16(out[i*frameBytes+c*2:], uint16(int16(v)))
		}
	}
	return out
}

// applyVolume scales 16-bit PCM in place by volume in [0, 1].
func applyVolume(pcm []byte, volume float64) {
	if volume >= 1 || volume < 0 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * volume
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// silenceFloor is the loudness reported for silent or empty chunks.
const silenceFloor = -70

// Loudness reports the loudness of a 16-bit PCM chunk in dB. The convention
// is the mean-square power of the normalised samples on a decibel scale with
// the standard -0.691 offset; no spectral weighting is applied. Silence maps
// to -70. Thresholds tuned against this function live in the mouth-sync
// config.
func Loudness(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return silenceFloor
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768
		sum += s * s
	}
	msq := sum / float64(n)
	if msq < 1e-10 {
		return silenceFloor
	}
	return -0.691 + 10*math.Log10(msq)
}
