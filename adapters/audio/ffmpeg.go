package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	targetSampleRate    = 16000
	encodingLinear16    = "LINEAR16"

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// SupportedExtensions lists the upload formats accepted for voice messages
var SupportedExtensions = []string{".wav", ".mp3", ".m4a", ".ogg"}

// IsSupported reports whether filename has an accepted audio extension
func IsSupported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// FFmpegConverter converts uploads to 16 kHz mono LINEAR16 WAV by shelling out to ffmpeg
type FFmpegConverter struct {
	binary    string
	available bool
	logger    *zap.Logger
}

var _ repositories.AudioConverter = (*FFmpegConverter)(nil)

// NewFFmpegConverter looks up the ffmpeg binary. An empty path means "ffmpeg" on PATH.
func NewFFmpegConverter(binary string, logger *zap.Logger) *FFmpegConverter {
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	c := &FFmpegConverter{binary: binary, logger: logger}
	c.available = c.detect()
	if !c.available {
		logger.Warn("FFmpeg not detected, only .wav uploads can be transcribed",
			zap.String("binary", binary))
	} else {
		logger.Info("FFmpeg detected", zap.String("binary", c.binary))
	}
	return c
}

func (c *FFmpegConverter) detect() bool {
	path, err := exec.LookPath(c.binary)
	if err != nil {
		return false
	}
	c.binary = path
	return exec.Command(path, "-version").Run() == nil
}

// Available reports whether ffmpeg was found
func (c *FFmpegConverter) Available() bool {
	return c.available
}

// Normalize returns 16-bit PCM WAV as-is and converts everything else, other
// WAV encodings included, to mono LINEAR16 through ffmpeg
func (c *FFmpegConverter) Normalize(ctx context.Context, data []byte, filename string) (repositories.NormalizedAudio, error) {
	if len(data) == 0 {
		return repositories.NormalizedAudio{}, errors.New("audio is empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".wav" {
		info, err := ParseWAV(data)
		if err != nil {
			return repositories.NormalizedAudio{}, err
		}
		if info.IsLinear16() {
			return repositories.NormalizedAudio{
				Data:       data,
				Encoding:   encodingLinear16,
				SampleRate: info.SampleRate,
				Channels:   info.Channels,
				DurationMs: info.DurationMs(),
			}, nil
		}
		if !c.available {
			return repositories.NormalizedAudio{}, fmt.Errorf("%d-bit WAV (format %d) must be converted to 16-bit PCM: %w",
				info.BitsPerSample, info.Format, repositories.ErrConverterUnavailable)
		}
		c.logger.Debug("Converting non 16-bit WAV",
			zap.Int("bits", info.BitsPerSample),
			zap.Int("channels", info.Channels),
			zap.Int("format", info.Format))
		return c.convert(ctx, data, ext)
	}

	if !IsSupported(filename) {
		return repositories.NormalizedAudio{}, fmt.Errorf("unsupported audio format: %q", ext)
	}
	if !c.available {
		return repositories.NormalizedAudio{}, repositories.ErrConverterUnavailable
	}
	return c.convert(ctx, data, ext)
}

// convert runs ffmpeg on data and reads back 16 kHz mono LINEAR16 WAV
func (c *FFmpegConverter) convert(ctx context.Context, data []byte, ext string) (repositories.NormalizedAudio, error) {

	// m4a containers need a seekable input, so go through temp files.
	src, err := os.CreateTemp("", "bridgetalk-*"+ext)
	if err != nil {
		return repositories.NormalizedAudio{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	srcPath := src.Name()
	dstPath := srcPath + ".wav"
	defer func() {
		os.Remove(srcPath)
		os.Remove(dstPath)
	}()

	if _, err := src.Write(data); err != nil {
		src.Close()
		return repositories.NormalizedAudio{}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := src.Close(); err != nil {
		return repositories.NormalizedAudio{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", srcPath,
		"-ac", "1",
		"-ar", fmt.Sprint(targetSampleRate),
		"-acodec", "pcm_s16le",
		dstPath,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return repositories.NormalizedAudio{}, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	wav, err := os.ReadFile(dstPath)
	if err != nil {
		return repositories.NormalizedAudio{}, fmt.Errorf("failed to read converted audio: %w", err)
	}

	c.logger.Debug("Converted audio",
		zap.String("format", ext),
		zap.Int("inputBytes", len(data)),
		zap.Int("outputBytes", len(wav)))

	normalized := repositories.NormalizedAudio{Data: wav, Encoding: encodingLinear16, SampleRate: targetSampleRate, Channels: 1}
	if info, err := ParseWAV(wav); err == nil {
		normalized.DurationMs = info.DurationMs()
	}
	return normalized, nil
}

// WAVInfo describes PCM audio in a RIFF/WAVE container
type WAVInfo struct {
	Format        int
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// IsLinear16 reports whether the samples are signed 16-bit little-endian PCM
func (w WAVInfo) IsLinear16() bool {
	return (w.Format == wavFormatPCM || w.Format == wavFormatExtensible) && w.BitsPerSample == 16
}

// DurationMs is the playback length derived from the data chunk size
func (w WAVInfo) DurationMs() int64 {
	bytesPerSecond := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return int64(w.DataBytes) * 1000 / int64(bytesPerSecond)
}

// ParseWAV walks the RIFF chunks and reads the fmt and data headers
func ParseWAV(data []byte) (WAVInfo, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("invalid WAV header")
	}

	var info WAVInfo
	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return WAVInfo{}, errors.New("truncated WAV fmt chunk")
			}
			info.Format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			// streamed WAVs may carry a placeholder size
			info.DataBytes = min(size, len(data)-body)
			if haveFmt {
				return info, nil
			}
		}
		offset = body + size + size%2
	}
	if !haveFmt {
		return WAVInfo{}, errors.New("WAV fmt chunk not found")
	}
	return info, nil
}
