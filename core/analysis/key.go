package analysis

import (
	"math"
	"math/cmplx"

	"AutoFM/model"
)

// Krumhansl-Schmuckler 调性估计：累加全曲色度向量，与24个大小调
// 模板做相关，取相关最高者。置信度不足时调用方降级为 unknown。

var (
	noteNames  = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	majProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// detectKey returns the best-matching key and the Pearson correlation
// of that match, clamped to 0..1 as a confidence score.
func detectKey(samples []float32, sr int) (model.MusicalKey, float64) {
	frameSize := 4096
	hopSize := 2048
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return model.KeyUnknown, 0
	}

	fftSize := nextPow2(frameSize)
	window := hannWindow(frameSize)
	chroma := make([]float64, 12)
	frame := make([]complex128, fftSize)

	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for k := range frame {
			frame[k] = 0
		}
		for j := 0; j < frameSize && start+j < n; j++ {
			frame[j] = complex(float64(samples[start+j])*window[j], 0)
		}
		spec := fft(frame)
		// 65Hz-4kHz 覆盖基音区，高频泛音只会污染色度
		for bin := 1; bin <= fftSize/2; bin++ {
			freq := float64(bin) * float64(sr) / float64(fftSize)
			if freq < 65 || freq > 4000 {
				continue
			}
			semitones := 12 * math.Log2(freq/261.63)
			pc := ((int(math.Round(semitones)) % 12) + 12) % 12
			chroma[pc] += cmplx.Abs(spec[bin])
		}
	}

	bestCorr := -1.0
	bestKey := model.KeyUnknown
	rolled := make([]float64, 12)
	for rot := 0; rot < 12; rot++ {
		for j := 0; j < 12; j++ {
			rolled[j] = chroma[(j+rot)%12]
		}
		if corr := pearson(rolled, majProfile); corr > bestCorr {
			bestCorr = corr
			bestKey = model.MusicalKey(noteNames[rot] + " Major")
		}
		if corr := pearson(rolled, minProfile); corr > bestCorr {
			bestCorr = corr
			bestKey = model.MusicalKey(noteNames[rot] + " Minor")
		}
	}

	confidence := bestCorr
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return bestKey, confidence
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var sumA, sumB, sumAB, sumA2, sumB2 float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
		sumAB += a[i] * b[i]
		sumA2 += a[i] * a[i]
		sumB2 += b[i] * b[i]
	}
	num := float64(n)*sumAB - sumA*sumB
	den := math.Sqrt((float64(n)*sumA2 - sumA*sumA) * (float64(n)*sumB2 - sumB*sumB))
	if den < 1e-12 {
		return 0
	}
	return num / den
}
