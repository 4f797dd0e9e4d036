package feedback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

// Output format of every clip: 16-bit little endian stereo at 44.1 kHz.
const (
	sampleRate   = 44100
	channelCount = 2
)

var ErrUnsupportedClip = errors.New("unsupported clip format")

// Clip is decoded PCM ready for the audio device.
type Clip struct {
	Name string
	PCM  []byte
}

// LoadClip reads a .wav or .mp3 file and converts it to the output format.
func LoadClip(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip: %w", err)
	}
	return DecodeClip(filepath.Base(path), data)
}

// DecodeClip decodes data using the extension of name to pick the format.
func DecodeClip(name string, data []byte) (*Clip, error) {
	var (
		pcm      []byte
		rate     int
		channels int
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		format, err := wav.NewReader(bytes.NewReader(data)).Format()
		if err != nil {
			return nil, fmt.Errorf("failed to get wav format from %s: %w", name, err)
		}
		if format.BitsPerSample != 16 {
			return nil, fmt.Errorf("%w: %s has %d bits per sample", ErrUnsupportedClip, name, format.BitsPerSample)
		}
		pcm, err = io.ReadAll(wav.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav data from %s: %w", name, err)
		}
		rate = int(format.SampleRate)
		channels = int(format.NumChannels)

	case ".mp3":
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder for %s: %w", name, err)
		}
		pcm, err = io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 data from %s: %w", name, err)
		}
		rate = dec.SampleRate()
		channels = 2

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClip, name)
	}

	if rate != sampleRate || channels != channelCount {
		pcm = convertAudio(pcm, rate, channels, sampleRate, channelCount)
	}
	return &Clip{Name: name, PCM: pcm}, nil
}

// convertAudio turns mono into stereo and resamples with linear
// interpolation. Input and output are 16-bit little endian.
func convertAudio(pcm []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	if fromChannels == 1 && toChannels == 2 {
		stereo := make([]int16, n*2)
		for i, s := range samples {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
		samples = stereo
	}

	if fromRate != toRate && fromRate > 0 && len(samples) > 0 {
		// Interpolate per channel so left and right never mix.
		ch := toChannels
		frames := len(samples) / ch
		ratio := float64(toRate) / float64(fromRate)
		outFrames := int(float64(frames) * ratio)
		out := make([]int16, outFrames*ch)
		for i := 0; i < outFrames; i++ {
			pos := float64(i) / ratio
			idx := int(pos)
			frac := pos - float64(idx)
			for c := 0; c < ch; c++ {
				if idx >= frames-1 {
					out[i*ch+c] = samples[(frames-1)*ch+c]
					continue
				}
				a := float64(samples[idx*ch+c])
				b := float64(samples[(idx+1)*ch+c])
				out[i*ch+c] = int16(a + (b-a)*frac)
			}
		}
		samples = out
	}

	result := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(result[i*2:], uint16(s))
	}
	return result
}
