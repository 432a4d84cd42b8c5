package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0755))
	return p
}

func TestDecodeF32LE(t *testing.T) {
	raw := make([]byte, 12)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-1))
	binary.LittleEndian.PutUint32(raw[8:], math.Float32bits(float32(math.NaN())))

	got, err := decodeF32LE(raw)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 0}, got)

	_, err = decodeF32LE([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestProbeStreamAndDuration(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeScript(t, dir, "ffprobe", `
case "$*" in
  *stream=*) echo '{"streams":[{"codec_name":"mp3","sample_rate":"44100","channels":2}]}' ;;
  *format=duration*) echo '{"format":{"duration":"183.52"}}' ;;
esac
`)
	p := NewFFmpegProcessor("ffmpeg", ffprobe)

	info, err := p.ProbeStream(context.Background(), "song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "mp3", info.CodecName)
	assert.Equal(t, 44100, info.SampleRate)

	d, err := p.GetAudioDuration(context.Background(), "song.mp3")
	require.NoError(t, err)
	assert.InDelta(t, 183.52, d, 1e-9)
}

func TestProbeStreamNoAudio(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeScript(t, dir, "ffprobe", `echo '{"streams":[]}'`)
	_, err := NewFFmpegProcessor("ffmpeg", ffprobe).ProbeStream(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoAudioStream)
}

func TestDecodeMonoFailure(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeScript(t, dir, "ffprobe", `echo '{"streams":[{"codec_name":"mp3","sample_rate":"8000","channels":1}]}'`)
	ffmpeg := writeScript(t, dir, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1\n")

	_, err := NewFFmpegProcessor(ffmpeg, ffprobe).DecodeMono(context.Background(), "broken.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestDecodeMono(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeScript(t, dir, "ffprobe", `echo '{"streams":[{"codec_name":"mp3","sample_rate":"8000","channels":1}]}'`)

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-0.25))
	pcmFile := filepath.Join(dir, "pcm.raw")
	require.NoError(t, os.WriteFile(pcmFile, raw, 0644))
	ffmpeg := writeScript(t, dir, "ffmpeg", "cat '"+pcmFile+"'\n")

	pcm, err := NewFFmpegProcessor(ffmpeg, ffprobe).DecodeMono(context.Background(), "song.mp3")
	require.NoError(t, err)
	assert.Equal(t, 8000, pcm.SampleRate)
	assert.Equal(t, []float32{0.25, -0.25}, pcm.Samples)
	assert.InDelta(t, 2.0/8000, pcm.Duration(), 1e-12)
}
