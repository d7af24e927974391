package analysis

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"

	"AutoFM/logger"
)

// analysisSampleRate 是分析用PCM的采样率。单声道 22050Hz 对节拍与
// 调性估计足够，解码量只有渲染路径的四分之一。
const analysisSampleRate = 22050

var (
	// ErrDecode covers general decode failures for one candidate.
	ErrDecode = errors.New("analysis: decode failed")

	// ErrUnsupportedFormat means the fetched file carries no decodable
	// audio stream.
	ErrUnsupportedFormat = errors.New("analysis: unsupported audio format")

	// ErrTruncatedAudio means the file decoded but holds materially less
	// audio than declared, or too little to be usable at all.
	ErrTruncatedAudio = errors.New("analysis: truncated audio")
)

// PCMDecoder turns a local audio file into mono float32 PCM for
// analysis. Abstracted so tests can feed synthetic signals without
// ffmpeg on the machine.
type PCMDecoder interface {
	// DecodePCM returns mono samples and the sample rate they are at.
	DecodePCM(ctx context.Context, path string) ([]float32, int, error)
}

// FFmpegDecoder 基于 ffmpeg/ffprobe 的生产解码器
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegDecoder 创建解码器，ffprobe 默认从 ffmpeg 同目录推断
func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	probe := "ffprobe"
	if strings.HasSuffix(ffmpegPath, "ffmpeg") {
		probe = strings.TrimSuffix(ffmpegPath, "ffmpeg") + "ffprobe"
	}
	return &FFmpegDecoder{FFmpegPath: ffmpegPath, FFprobePath: probe}
}

// probeAudioCodec 返回文件第一条音频流的编码名，没有音频流时返回空串
func (d *FFmpegDecoder) probeAudioCodec(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, d.FFprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: ffprobe %s: %v", ErrDecode, path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DecodePCM decodes the file to mono f32le PCM at the analysis rate.
func (d *FFmpegDecoder) DecodePCM(ctx context.Context, path string) ([]float32, int, error) {
	codec, err := d.probeAudioCodec(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if codec == "" {
		return nil, 0, fmt.Errorf("%w: %s has no audio stream", ErrUnsupportedFormat, path)
	}

	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", analysisSampleRate),
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: pipe: %v", ErrDecode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("%w: start ffmpeg: %v", ErrDecode, err)
	}

	data, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}
	if readErr != nil {
		return nil, 0, fmt.Errorf("%w: read pcm: %v", ErrDecode, readErr)
	}
	if waitErr != nil && len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: %s (%s)", ErrDecode, waitErr, truncateStderr(stderr.String()))
	}
	if waitErr != nil {
		// ffmpeg 非零退出但已产出部分PCM，按截断处理交给上层判定
		logger.Warn("ffmpeg 解码非正常退出，已解码部分数据",
			logger.String("path", path),
			logger.String("stderr", truncateStderr(stderr.String())))
	}

	numSamples := len(data) / 4
	if numSamples == 0 {
		return nil, 0, fmt.Errorf("%w: no audio decoded from %s", ErrTruncatedAudio, path)
	}

	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, analysisSampleRate, nil
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
