package selector

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"AutoFM/config"
	"AutoFM/model"
)

func testConfig() *config.Config {
	return &config.Config{
		CandidateCap:      50,
		IntroSkipSec:      8,
		OutroReserveSec:   8,
		MinUsableSec:      30,
		DurationTolerance: 0.10,
	}
}

func testSelector(t *testing.T) *Selector {
	t.Helper()
	weights := NewWeightsStore(filepath.Join(t.TempDir(), "weights.json"))
	return New(testConfig(), weights)
}

// flatAnalysis builds an analysis with a regular beat grid and a flat
// energy envelope.
func flatAnalysis(id string, duration, bpm float64, key model.MusicalKey) *model.TrackAnalysis {
	interval := 60.0 / bpm
	var beats []float64
	for t := 0.0; t < duration; t += interval {
		beats = append(beats, t)
	}
	energy := make([]model.EnergyPoint, len(beats))
	for i, b := range beats {
		energy[i] = model.EnergyPoint{Time: b, Level: 0.5}
	}
	return &model.TrackAnalysis{
		TrackID:   id,
		Duration:  duration,
		BPM:       bpm,
		Key:       key,
		BeatTimes: beats,
		Energy:    energy,
	}
}

func slicePull(candidates []*Candidate) PullFunc {
	i := 0
	return func(ctx context.Context) (*Candidate, error) {
		if i >= len(candidates) {
			return nil, nil
		}
		c := candidates[i]
		i++
		return c, nil
	}
}

func candidate(id string, duration, bpm float64, key model.MusicalKey) *Candidate {
	return &Candidate{
		Desc:     model.TrackDescriptor{ID: id, Duration: duration},
		Analysis: flatAnalysis(id, duration, bpm, key),
	}
}

func TestSelectThreeTracksSixMinutes(t *testing.T) {
	// 三条 [200s, 210s, 195s] 的候选配 360s 目标：两条裁剪后就够，
	// 计划时长必须落在 ±10% 容差带内
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 120, "C Major"),
		candidate("t2", 210, 120, "C Major"),
		candidate("t3", 195, 120, "C Major"),
	}

	plan, stats, err := s.Select(context.Background(), slicePull(pool), 360)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("selected %d segments, want 2", len(plan.Segments))
	}
	total := plan.TotalDuration()
	if total < 324 || total > 396 {
		t.Errorf("planned duration %v outside [324, 396]", total)
	}
	if stats.Pulled != 2 {
		t.Errorf("pulled %d candidates, want 2 (lazy pull must stop early)", stats.Pulled)
	}
}

func TestSelectTransitionInvariant(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 126, "C Major"),
		candidate("t2", 180, 124, "G Major"),
		candidate("t3", 220, 128, "C Major"),
	}

	plan, _, err := s.Select(context.Background(), slicePull(pool), 500)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	for i := 0; i < len(plan.Segments)-1; i++ {
		seg := plan.Segments[i]
		next := plan.Segments[i+1]
		if seg.Transition < 4 || seg.Transition > 24 {
			t.Errorf("segment %d transition %v outside [4, 24]", i, seg.Transition)
		}
		if seg.Transition > seg.Usable() {
			t.Errorf("segment %d transition %v exceeds own usable %v", i, seg.Transition, seg.Usable())
		}
		if seg.Transition > next.Usable()*0.5 {
			t.Errorf("segment %d transition %v exceeds half of next usable %v", i, seg.Transition, next.Usable())
		}
	}
	if last := plan.Segments[len(plan.Segments)-1]; last.Transition != 0 {
		t.Errorf("final segment transition = %v, want 0", last.Transition)
	}
}

func TestSelectTrimPointsBeatSnapped(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 120, "C Major"),
		candidate("t2", 200, 120, "C Major"),
	}

	plan, _, err := s.Select(context.Background(), slicePull(pool), 360)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	for i, seg := range plan.Segments {
		if seg.TrimIn < 8 {
			t.Errorf("segment %d trim-in %v before intro skip", i, seg.TrimIn)
		}
		if !onGrid(seg.Analysis.BeatTimes, seg.TrimIn) || !onGrid(seg.Analysis.BeatTimes, seg.TrimOut) {
			t.Errorf("segment %d trims (%v, %v) not beat-snapped", i, seg.TrimIn, seg.TrimOut)
		}
		if seg.TrimOut <= seg.TrimIn || seg.TrimOut > seg.Analysis.Duration {
			t.Errorf("segment %d trim bounds invalid: (%v, %v)", i, seg.TrimIn, seg.TrimOut)
		}
	}
}

func onGrid(beats []float64, v float64) bool {
	for _, b := range beats {
		if b == v {
			return true
		}
	}
	return false
}

func TestSelectDeterministic(t *testing.T) {
	s := testSelector(t)
	pool := func() []*Candidate {
		return []*Candidate{
			candidate("t1", 200, 126, "C Major"),
			candidate("t2", 180, 98, "D Major"),
			candidate("t3", 220, 124, "A Minor"),
			candidate("t4", 190, 122, "G Major"),
		}
	}

	first, _, err := s.Select(context.Background(), slicePull(pool()), 500)
	if err != nil {
		t.Fatalf("first Select: %v", err)
	}
	second, _, err := s.Select(context.Background(), slicePull(pool()), 500)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical input produced different plans")
	}
}

func TestSelectSkipsBadCandidates(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 120, "C Major"),
		{Desc: model.TrackDescriptor{ID: "broken"}, Err: errors.New("decode failed")},
		candidate("t3", 200, 120, "C Major"),
	}

	plan, stats, err := s.Select(context.Background(), slicePull(pool), 360)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("selected %d segments, want 2", len(plan.Segments))
	}
	if stats.Pulled != 3 || stats.Usable != 2 {
		t.Errorf("stats = %+v, want Pulled=3 Usable=2", stats)
	}
	for _, seg := range plan.Segments {
		if seg.Track.ID == "broken" {
			t.Error("broken candidate was selected")
		}
	}
}

func TestSelectRelaxesThresholdWhenExhausted(t *testing.T) {
	// 第二条的兼容性在放宽前的阈值之下、放宽后之上：池子耗尽后
	// 必须被重审选中，而不是让任务死掉
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 120, "C Major"),
		candidate("t2", 200, 97, "D Major"),
	}

	w := s.weights.Current()
	score := Compatibility(w, pool[0].Analysis, pool[1].Analysis)
	if score >= w.Threshold || score < w.RelaxedThreshold {
		t.Fatalf("test pair score %v not between relaxed %v and strict %v", score, w.RelaxedThreshold, w.Threshold)
	}

	plan, stats, err := s.Select(context.Background(), slicePull(pool), 360)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("selected %d segments after relaxation, want 2", len(plan.Segments))
	}
	if stats.Skipped != 1 {
		t.Errorf("stats.Skipped = %d, want 1", stats.Skipped)
	}
}

func TestSelectRelaxesWhenOnlyOneSegmentAdmitted(t *testing.T) {
	// 单独一条长候选就盖过目标时长，第二条被严阈值搁置：池子耗尽
	// 后依然不满两段，放宽重审必须把搁置的那条捞回来
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 400, 120, "C Major"),
		candidate("t2", 200, 97, "D Major"),
	}

	w := s.weights.Current()
	score := Compatibility(w, pool[0].Analysis, pool[1].Analysis)
	if score >= w.Threshold || score < w.RelaxedThreshold {
		t.Fatalf("test pair score %v not between relaxed %v and strict %v", score, w.RelaxedThreshold, w.Threshold)
	}

	target := 360.0
	plan, stats, err := s.Select(context.Background(), slicePull(pool), target)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("selected %d segments after relaxation, want 2", len(plan.Segments))
	}
	if stats.Skipped != 1 {
		t.Errorf("stats.Skipped = %d, want 1", stats.Skipped)
	}
	total := plan.TotalDuration()
	if total < target*0.90 || total > target*1.10 {
		t.Errorf("planned duration %v outside tolerance of %v", total, target)
	}
}

func TestTrimPointsFallBackToHighlight(t *testing.T) {
	s := testSelector(t)

	a := &model.TrackAnalysis{
		TrackID:  "no-grid",
		Duration: 300,
		Highlights: []model.Highlight{
			{Start: 40, End: 75, PeakTime: 52, Intensity: 0.9},
			{Start: 120, End: 155, PeakTime: 130, Intensity: 0.7},
		},
	}
	in, out := s.trimPoints(a)
	if in != 40 || out != 75 {
		t.Errorf("trim points = (%v, %v), want top highlight window (40, 75)", in, out)
	}

	// 高光窗口越界时夹回曲目边界
	a.Highlights[0] = model.Highlight{Start: -5, End: 400, Intensity: 0.9}
	in, out = s.trimPoints(a)
	if in != 0 || out != 300 {
		t.Errorf("clamped trim points = (%v, %v), want (0, 300)", in, out)
	}

	// 既无节拍也无高光时退回整段
	a.Highlights = nil
	in, out = s.trimPoints(a)
	if in != 0 || out != 300 {
		t.Errorf("bare trim points = (%v, %v), want (0, 300)", in, out)
	}
}

func TestSelectInsufficientTracks(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{candidate("only", 200, 120, "C Major")}

	_, stats, err := s.Select(context.Background(), slicePull(pool), 360)
	if !errors.Is(err, ErrInsufficientTracks) {
		t.Fatalf("err = %v, want ErrInsufficientTracks", err)
	}
	if stats.Pulled != 1 {
		t.Errorf("stats.Pulled = %d, want 1", stats.Pulled)
	}
}

func TestSelectEmptySource(t *testing.T) {
	s := testSelector(t)
	_, stats, err := s.Select(context.Background(), slicePull(nil), 360)
	if !errors.Is(err, ErrInsufficientTracks) {
		t.Fatalf("err = %v, want ErrInsufficientTracks", err)
	}
	if stats.Pulled != 0 {
		t.Errorf("stats.Pulled = %d, want 0", stats.Pulled)
	}
}

func TestSelectDurationUnreachable(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 60, 120, "C Major"),
		candidate("t2", 60, 120, "C Major"),
	}

	_, _, err := s.Select(context.Background(), slicePull(pool), 600)
	if !errors.Is(err, ErrDurationUnreachable) {
		t.Fatalf("err = %v, want ErrDurationUnreachable", err)
	}
}

func TestSelectTrimsOvershoot(t *testing.T) {
	s := testSelector(t)
	pool := []*Candidate{
		candidate("t1", 200, 120, "C Major"),
		candidate("t2", 230, 120, "C Major"),
	}

	target := 340.0
	plan, _, err := s.Select(context.Background(), slicePull(pool), target)
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	total := plan.TotalDuration()
	if total > target*1.10 || total < target*0.90 {
		t.Errorf("planned duration %v outside tolerance of %v", total, target)
	}
	last := plan.Segments[len(plan.Segments)-1]
	if !onGrid(last.Analysis.BeatTimes, last.TrimOut) {
		t.Errorf("overshoot trim-out %v not beat-snapped", last.TrimOut)
	}
}

func TestSelectHonorsCandidateCap(t *testing.T) {
	cfg := testConfig()
	cfg.CandidateCap = 3
	weights := NewWeightsStore(filepath.Join(t.TempDir(), "weights.json"))
	s := New(cfg, weights)

	// 所有候选都太短，选择器不能无限拉下去
	var pool []*Candidate
	for i := 0; i < 20; i++ {
		pool = append(pool, candidate(string(rune('a'+i)), 40, 120, "C Major"))
	}

	_, stats, err := s.Select(context.Background(), slicePull(pool), 600)
	if err == nil {
		t.Fatal("expected an error with undersized candidates")
	}
	if stats.Pulled != 3 {
		t.Errorf("stats.Pulled = %d, want cap of 3", stats.Pulled)
	}
}

func TestSelectPropagatesSourceError(t *testing.T) {
	s := testSelector(t)
	boom := errors.New("provider down")
	pull := func(ctx context.Context) (*Candidate, error) { return nil, boom }

	_, _, err := s.Select(context.Background(), pull, 360)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}
