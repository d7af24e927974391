package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"AutoFM/config"
	"AutoFM/model"
)

// fakeSegmentDecoder emits silence of exactly the requested span.
type fakeSegmentDecoder struct {
	calls []float64
}

func (d *fakeSegmentDecoder) DecodeSegment(ctx context.Context, path string, startSec, durSec float64, sampleRate, channels int) ([]float32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.calls = append(d.calls, startSec)
	frames := int(durSec * float64(sampleRate))
	samples := make([]float32, frames*channels)
	for i := range samples {
		samples[i] = 0.5
	}
	return samples, nil
}

// fakeSegmentEncoder writes the raw canvas to disk so the pipeline can
// open the artifact afterwards.
type fakeSegmentEncoder struct {
	err error
}

func (e *fakeSegmentEncoder) Encode(ctx context.Context, samples []float32, sampleRate, channels int, bitrate, outPath string) error {
	if err := os.WriteFile(outPath, []byte{0x49, 0x44, 0x33}, 0o644); err != nil {
		return err
	}
	if e.err != nil {
		return e.err
	}
	return nil
}

func renderConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		WorkDir:          t.TempDir(),
		RenderSampleRate: 1000,
		RenderChannels:   2,
		AudioBitrate:     "192k",
	}
}

func renderSegment(id string, duration, bpm float64, trimIn, trimOut, transition float64) model.SelectedSegment {
	interval := 60.0 / bpm
	var beats []float64
	for t := 0.0; t < duration; t += interval {
		beats = append(beats, t)
	}
	return model.SelectedSegment{
		Track: model.TrackDescriptor{ID: id, Duration: duration},
		Analysis: &model.TrackAnalysis{
			TrackID:   id,
			Duration:  duration,
			BPM:       bpm,
			BeatTimes: beats,
			LocalPath: fmt.Sprintf("/tmp/%s.m4a", id),
		},
		TrimIn:     trimIn,
		TrimOut:    trimOut,
		Transition: transition,
	}
}

func twoSegmentPlan() *model.MixPlan {
	return &model.MixPlan{
		Segments: []model.SelectedSegment{
			renderSegment("t1", 200, 120, 8, 192, 16),
			renderSegment("t2", 200, 120, 8, 192, 0),
		},
	}
}

func TestRenderDurationMatchesPlan(t *testing.T) {
	cfg := renderConfig(t)
	decoder := &fakeSegmentDecoder{}
	r := NewRenderer(cfg, decoder, &fakeSegmentEncoder{})

	plan := twoSegmentPlan()
	outPath, duration, err := r.Render(context.Background(), "mix-1", plan)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if filepath.Dir(outPath) != cfg.WorkDir {
		t.Errorf("artifact %s not in work dir", outPath)
	}

	// 画布总长 = 各段裁剪后时长之和减去重叠的过渡
	want := plan.TotalDuration()
	if math.Abs(duration-want) > want*0.01 {
		t.Errorf("rendered duration %v, want ~%v", duration, want)
	}
	if len(decoder.calls) != 2 {
		t.Errorf("decoded %d segments, want 2", len(decoder.calls))
	}
}

func TestRenderEmptyPlan(t *testing.T) {
	r := NewRenderer(renderConfig(t), &fakeSegmentDecoder{}, &fakeSegmentEncoder{})
	_, _, err := r.Render(context.Background(), "mix-1", &model.MixPlan{})
	if !errors.Is(err, ErrRender) {
		t.Errorf("err = %v, want ErrRender", err)
	}
}

func TestRenderEncodeFailureRollsBack(t *testing.T) {
	cfg := renderConfig(t)
	encodeErr := errors.New("lame exploded")
	r := NewRenderer(cfg, &fakeSegmentDecoder{}, &fakeSegmentEncoder{err: encodeErr})

	_, _, err := r.Render(context.Background(), "mix-2", twoSegmentPlan())
	if !errors.Is(err, ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
	// 半成品必须被清掉
	if _, statErr := os.Stat(filepath.Join(cfg.WorkDir, "mix-2_mix.mp3")); !os.IsNotExist(statErr) {
		t.Error("partial artifact left behind after encode failure")
	}
}

func TestRenderCancelledContext(t *testing.T) {
	r := NewRenderer(renderConfig(t), &fakeSegmentDecoder{}, &fakeSegmentEncoder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Render(ctx, "mix-3", twoSegmentPlan())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
