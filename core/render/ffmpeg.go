package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"

	"AutoFM/logger"
)

// SegmentDecoder decodes a trimmed slice of a source file into
// interleaved float32 PCM at the render format. Behind an interface so
// the canvas math is testable with synthetic segments.
type SegmentDecoder interface {
	DecodeSegment(ctx context.Context, path string, startSec, durSec float64, sampleRate, channels int) ([]float32, error)
}

// SegmentEncoder encodes the finished interleaved PCM canvas into the
// artifact file format.
type SegmentEncoder interface {
	Encode(ctx context.Context, samples []float32, sampleRate, channels int, bitrate, outPath string) error
}

// FFmpegSegmentDecoder 渲染路径的生产解码器：统一重采样到目标采样率
// 与声道布局，来源格式差异在这里抹平。
type FFmpegSegmentDecoder struct {
	FFmpegPath string
}

// DecodeSegment decodes [startSec, startSec+durSec) of the file.
func (d *FFmpegSegmentDecoder) DecodeSegment(ctx context.Context, path string, startSec, durSec float64, sampleRate, channels int) ([]float32, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durSec),
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", fmt.Sprintf("%d", channels),
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	data, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if readErr != nil {
		return nil, fmt.Errorf("read segment pcm: %w", readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("decode segment %s: %w (%s)", path, waitErr, firstLine(stderr.String()))
	}

	numSamples := len(data) / 4
	if numSamples == 0 {
		return nil, fmt.Errorf("no audio decoded from %s at %.1fs", path, startSec)
	}
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// FFmpegSegmentEncoder 通过标准输入喂PCM，编码为MP3制品
type FFmpegSegmentEncoder struct {
	FFmpegPath string
}

// Encode writes the canvas out as an MP3 file.
func (e *FFmpegSegmentEncoder) Encode(ctx context.Context, samples []float32, sampleRate, channels int, bitrate, outPath string) error {
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-v", "error",
		"-y",
		"-f", "f32le",
		"-ac", fmt.Sprintf("%d", channels),
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-i", "-",
		"-acodec", "libmp3lame",
		"-b:a", bitrate,
		outPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	_, writeErr := stdin.Write(buf)
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("encode %s: %w (%s)", outPath, err, firstLine(stderr.String()))
	}
	if writeErr != nil {
		return fmt.Errorf("write pcm to encoder: %w", writeErr)
	}

	logger.Debug("混音编码完成",
		logger.String("path", outPath),
		logger.Int("samples", len(samples)))
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
