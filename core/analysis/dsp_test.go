package analysis

import (
	"math"
	"reflect"
	"testing"
)

// clickTrack synthesizes a metronome signal: short decaying bursts at
// every beat, silence between.
func clickTrack(durationSec, bpm float64, sr int) []float32 {
	n := int(durationSec * float64(sr))
	samples := make([]float32, n)
	interval := 60.0 / bpm
	for t := 0.0; t < durationSec; t += interval {
		start := int(t * float64(sr))
		for i := 0; i < 400 && start+i < n; i++ {
			decay := math.Exp(-float64(i) / 60.0)
			samples[start+i] = float32(0.9 * decay * math.Sin(2*math.Pi*1000*float64(i)/float64(sr)))
		}
	}
	return samples
}

func TestEstimateBPMClickTrack(t *testing.T) {
	tests := []struct {
		name string
		bpm  float64
	}{
		{"120 bpm", 120},
		{"90 bpm", 90},
		{"140 bpm", 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := clickTrack(30, tt.bpm, analysisSampleRate)
			onset := computeOnsetEnvelope(samples, 1024, 512)
			got := estimateBPM(onset, analysisSampleRate, 512)
			// 帧粒度决定了估计精度，±10% 内算对
			if got < tt.bpm*0.9 || got > tt.bpm*1.1 {
				t.Errorf("estimateBPM = %v, want within 10%% of %v", got, tt.bpm)
			}
		})
	}
}

func TestEstimateBPMShortInput(t *testing.T) {
	if got := estimateBPM([]float64{1, 2, 3}, analysisSampleRate, 512); got != 120.0 {
		t.Errorf("short onset envelope should fall back to 120, got %v", got)
	}
}

func TestEstimateBeatTimesGrid(t *testing.T) {
	samples := clickTrack(30, 120, analysisSampleRate)
	onset := computeOnsetEnvelope(samples, 1024, 512)
	beats := estimateBeatTimes(onset, analysisSampleRate, 30, 120, 512)

	if len(beats) < 50 {
		t.Fatalf("got %d beats for 30s at 120 BPM, want ~60", len(beats))
	}
	for i := 1; i < len(beats); i++ {
		if beats[i] <= beats[i-1] {
			t.Fatalf("beat grid not strictly increasing at %d: %v <= %v", i, beats[i], beats[i-1])
		}
	}
	if beats[0] < 0 {
		t.Errorf("first beat %v < 0", beats[0])
	}
	if last := beats[len(beats)-1]; last > 30 {
		t.Errorf("last beat %v beyond duration", last)
	}
	// 节拍间隔应接近 0.5s
	interval := (beats[len(beats)-1] - beats[0]) / float64(len(beats)-1)
	if math.Abs(interval-0.5) > 0.01 {
		t.Errorf("mean beat interval %v, want ~0.5", interval)
	}
}

func TestDSPDeterministic(t *testing.T) {
	samples := clickTrack(20, 128, analysisSampleRate)

	onset1 := computeOnsetEnvelope(samples, 1024, 512)
	onset2 := computeOnsetEnvelope(samples, 1024, 512)
	if !reflect.DeepEqual(onset1, onset2) {
		t.Fatal("onset envelope differs across runs on identical input")
	}

	bpm1 := estimateBPM(onset1, analysisSampleRate, 512)
	bpm2 := estimateBPM(onset2, analysisSampleRate, 512)
	if bpm1 != bpm2 {
		t.Fatalf("BPM differs across runs: %v vs %v", bpm1, bpm2)
	}

	beats1 := estimateBeatTimes(onset1, analysisSampleRate, 20, bpm1, 512)
	beats2 := estimateBeatTimes(onset2, analysisSampleRate, 20, bpm2, 512)
	if !reflect.DeepEqual(beats1, beats2) {
		t.Fatal("beat grid differs across runs on identical input")
	}
}

func TestComputeBeatEnergyNormalized(t *testing.T) {
	samples := clickTrack(20, 120, analysisSampleRate)
	onset := computeOnsetEnvelope(samples, 1024, 512)
	beats := estimateBeatTimes(onset, analysisSampleRate, 20, 120, 512)
	energy := computeBeatEnergy(samples, analysisSampleRate, beats)

	if len(energy) != len(beats) {
		t.Fatalf("energy length %d != beats length %d", len(energy), len(beats))
	}
	maxE := 0.0
	for i, e := range energy {
		if e < 0 || e > 1 {
			t.Fatalf("energy[%d] = %v outside [0,1]", i, e)
		}
		if e > maxE {
			maxE = e
		}
	}
	if math.Abs(maxE-1) > 1e-9 {
		t.Errorf("max energy %v, want normalized to 1", maxE)
	}
}

func TestDetectKeyMajorTriad(t *testing.T) {
	// C大三和弦的纯正弦叠加，色度应压倒性地对上C大调模板
	sr := analysisSampleRate
	n := 10 * sr
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		ts := float64(i) / float64(sr)
		v := 0.3*math.Sin(2*math.Pi*261.63*ts) +
			0.3*math.Sin(2*math.Pi*329.63*ts) +
			0.3*math.Sin(2*math.Pi*392.00*ts)
		samples[i] = float32(v)
	}

	key, confidence := detectKey(samples, sr)
	if key != "C Major" {
		t.Errorf("detectKey = %q (confidence %v), want C Major", key, confidence)
	}
	if confidence <= 0 {
		t.Errorf("confidence = %v, want positive", confidence)
	}
}

func TestDetectHighlightsTopThree(t *testing.T) {
	// 200拍的网格，中段能量高
	beats := make([]float64, 200)
	energy := make([]float64, 200)
	for i := range beats {
		beats[i] = float64(i) * 0.5
		energy[i] = 0.2
		if i >= 80 && i < 160 {
			energy[i] = 1.0
		}
	}

	highlights := detectHighlights(beats, energy)
	if len(highlights) == 0 || len(highlights) > 3 {
		t.Fatalf("got %d highlights, want 1..3", len(highlights))
	}
	for i := 1; i < len(highlights); i++ {
		if highlights[i].Intensity > highlights[i-1].Intensity {
			t.Errorf("highlights not sorted by intensity at %d", i)
		}
	}
	// 最高光窗口应落在高能量区间里
	top := highlights[0]
	if top.Start < 30 || top.End > 85 {
		t.Errorf("top highlight [%v, %v] not inside the loud span", top.Start, top.End)
	}
}
