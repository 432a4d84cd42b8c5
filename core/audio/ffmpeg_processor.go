package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"XSlicer/logger"
)

// ErrNoAudioStream is returned when ffprobe finds no audio stream in a file.
var ErrNoAudioStream = errors.New("no audio streams found in file")

// StreamInfo 音频流信息
type StreamInfo struct {
	CodecName  string
	SampleRate int
	Channels   int
}

// FFmpegProcessor implements the Processor interface using ffmpeg and ffprobe.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ProbeStream 获取第一个音频流的格式和采样率
func (p *FFmpegProcessor) ProbeStream(ctx context.Context, inputFile string) (*StreamInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels",
		"-of", "json",
		inputFile,
	}

	out, err := p.runProbe(ctx, args, inputFile)
	if err != nil {
		return nil, err
	}

	var probeData struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if len(probeData.Streams) == 0 {
		return nil, ErrNoAudioStream
	}

	s := probeData.Streams[0]
	rate, err := strconv.Atoi(s.SampleRate)
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %q for %s", s.SampleRate, inputFile)
	}
	return &StreamInfo{CodecName: s.CodecName, SampleRate: rate, Channels: s.Channels}, nil
}

// GetAudioDuration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	out, err := p.runProbe(ctx, args, inputFile)
	if err != nil {
		return 0, err
	}

	var probeData struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w\nFFprobe Output: %s", inputFile, err, string(out))
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, inputFile, err)
	}
	return duration, nil
}

// DecodeMono 将音频解码为单声道 float32 PCM，保持原始采样率
func (p *FFmpegProcessor) DecodeMono(ctx context.Context, inputFile string) (*PCM, error) {
	info, err := p.ProbeStream(ctx, inputFile)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner", "-v", "error",
		"-i", inputFile,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(info.SampleRate),
		"-f", "f32le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg decode",
		logger.String("path", p.ffmpegPath),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}

	samples, err := decodeF32LE(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", inputFile, err)
	}

	logger.Debug("decoded audio",
		logger.String("file", inputFile),
		logger.String("codec", info.CodecName),
		logger.Int("sampleRate", info.SampleRate),
		logger.Int("samples", len(samples)))

	return &PCM{Samples: samples, SampleRate: info.SampleRate}, nil
}

func (p *FFmpegProcessor) runProbe(ctx context.Context, args []string, inputFile string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}
	return out.Bytes(), nil
}

// decodeF32LE converts raw little-endian float32 bytes to samples.
func decodeF32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("unexpected PCM byte length %d", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		v := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			v = 0
		}
		samples[i] = v
	}
	return samples, nil
}
