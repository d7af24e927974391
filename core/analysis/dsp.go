package analysis

import (
	"math"
	"math/cmplx"
	"sort"

	"AutoFM/model"
)

// 节拍与能量估计的底层信号处理。全部纯函数，同样的输入永远给出
// 同样的输出，流水线的确定性依赖这一点。

func nextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

// fft 是迭代版 Cooley-Tukey，长度必须为2的幂
func fft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	copy(out, x)
	if n <= 1 {
		return out
	}

	// 位反转置换
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			out[i], out[j] = out[j], out[i]
		}
		m := n >> 1
		for j >= m && m > 0 {
			j -= m
			m >>= 1
		}
		j += m
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		wLen := complex(math.Cos(step), math.Sin(step))
		for i := 0; i < n; i += size {
			w := complex(1, 0)
			for k := 0; k < half; k++ {
				u := out[i+k]
				v := out[i+k+half] * w
				out[i+k] = u + v
				out[i+k+half] = u - v
				w *= wLen
			}
		}
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// computeOnsetEnvelope 计算谱通量起音包络，帧间只累加正向能量变化
func computeOnsetEnvelope(samples []float32, frameSize, hopSize int) []float64 {
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return nil
	}
	fftSize := nextPow2(frameSize)
	window := hannWindow(frameSize)
	onset := make([]float64, numFrames)
	prevMag := make([]float64, fftSize/2+1)
	mag := make([]float64, fftSize/2+1)
	frame := make([]complex128, fftSize) // 帧缓冲复用，避免每帧分配

	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for k := range frame {
			frame[k] = 0
		}
		for j := 0; j < frameSize && start+j < n; j++ {
			frame[j] = complex(float64(samples[start+j])*window[j], 0)
		}
		spec := fft(frame)
		for j := 0; j <= fftSize/2; j++ {
			mag[j] = cmplx.Abs(spec[j])
		}
		flux := 0.0
		for j := range mag {
			d := mag[j] - prevMag[j]
			if d > 0 {
				flux += d
			}
		}
		onset[i] = flux
		copy(prevMag, mag)
	}
	return onset
}

// estimateBPM 在起音包络上做自相关，搜索 60-200 BPM。
// 对 120 BPM 附近做感知加权，抑制倍频/半频误判。
func estimateBPM(onset []float64, sr, hopSize int) float64 {
	if len(onset) < 100 {
		return 120.0
	}

	minLag := sr * 60 / (200 * hopSize)
	maxLag := sr * 60 / (60 * hopSize)
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}

	bestLag := minLag
	bestCorr := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		count := 0
		for i := 0; i+lag < len(onset); i++ {
			corr += onset[i] * onset[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}

		bpmApprox := 60.0 / (float64(lag) * float64(hopSize) / float64(sr))
		weight := math.Exp(-0.5 * math.Pow((bpmApprox-120.0)/40.0, 2))
		weightedCorr := corr * (0.8 + 0.2*weight)

		if weightedCorr > bestCorr {
			bestCorr = weightedCorr
			bestLag = lag
		}
	}

	beatPeriodSec := float64(bestLag) * float64(hopSize) / float64(sr)
	if beatPeriodSec <= 0 {
		return 120.0
	}
	bpm := 60.0 / beatPeriodSec
	for bpm > 200 {
		bpm /= 2
	}
	for bpm < 60 {
		bpm *= 2
	}
	return math.Round(bpm*10) / 10
}

// estimateBeatTimes 以前5秒内最强的起音峰为相位锚点，按固定节拍
// 周期向两侧铺出整条节拍网格。
func estimateBeatTimes(onset []float64, sr int, duration, bpm float64, hopSize int) []float64 {
	if bpm <= 0 {
		bpm = 120
	}
	beatPeriod := 60.0 / bpm

	anchorTime := 0.0
	if len(onset) > 0 {
		searchFrames := int(5.0 * float64(sr) / float64(hopSize))
		if searchFrames > len(onset) {
			searchFrames = len(onset)
		}
		bestIdx := 0
		bestVal := 0.0
		for i := 0; i < searchFrames; i++ {
			if onset[i] > bestVal {
				bestVal = onset[i]
				bestIdx = i
			}
		}
		anchorTime = float64(bestIdx) * float64(hopSize) / float64(sr)
	}

	var beats []float64
	for t := anchorTime; t >= 0; t -= beatPeriod {
		beats = append(beats, math.Round(t*1000)/1000)
	}
	for t := anchorTime + beatPeriod; t < duration; t += beatPeriod {
		beats = append(beats, math.Round(t*1000)/1000)
	}
	sort.Float64s(beats)
	return beats
}

func computeRMSFrames(samples []float32, frameSize, hopSize int) []float64 {
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return []float64{0.5}
	}
	rms := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		sum := 0.0
		count := 0
		for j := 0; j < frameSize && start+j < n; j++ {
			v := float64(samples[start+j])
			sum += v * v
			count++
		}
		if count > 0 {
			rms[i] = math.Sqrt(sum / float64(count))
		}
	}
	return rms
}

// computeBeatEnergy 按节拍聚合RMS并归一化到 0..1
func computeBeatEnergy(samples []float32, sr int, beatTimes []float64) []float64 {
	frameSize := 2048
	hopSize := 512
	rms := computeRMSFrames(samples, frameSize, hopSize)
	if len(beatTimes) < 2 {
		return []float64{0.5}
	}

	energy := make([]float64, len(beatTimes))
	for i, bt := range beatTimes {
		frameIdx := int(bt * float64(sr) / float64(hopSize))
		var nextFrameIdx int
		if i+1 < len(beatTimes) {
			nextFrameIdx = int(beatTimes[i+1] * float64(sr) / float64(hopSize))
		} else {
			nextFrameIdx = frameIdx + int(float64(sr)/float64(hopSize)*0.5)
		}
		if frameIdx >= len(rms) {
			frameIdx = len(rms) - 1
		}
		if nextFrameIdx > len(rms) {
			nextFrameIdx = len(rms)
		}
		if frameIdx < 0 {
			frameIdx = 0
		}
		sum := 0.0
		count := 0
		for j := frameIdx; j < nextFrameIdx; j++ {
			sum += rms[j]
			count++
		}
		if count > 0 {
			energy[i] = sum / float64(count)
		}
	}

	maxE := 0.0
	for _, e := range energy {
		if e > maxE {
			maxE = e
		}
	}
	if maxE > 1e-6 {
		for i := range energy {
			energy[i] /= maxE
		}
	}
	return energy
}

func computeLoudnessDB(samples []float32) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	avg := sum / float64(len(samples)+1)
	return 20 * math.Log10(math.Sqrt(avg)+1e-6)
}

// buildEnergyEnvelope 把逐拍能量转成带时间戳的包络点
func buildEnergyEnvelope(beatTimes, beatEnergy []float64) []model.EnergyPoint {
	n := len(beatTimes)
	if len(beatEnergy) < n {
		n = len(beatEnergy)
	}
	points := make([]model.EnergyPoint, n)
	for i := 0; i < n; i++ {
		points[i] = model.EnergyPoint{Time: beatTimes[i], Level: beatEnergy[i]}
	}
	return points
}

// detectHighlights 用64拍滑动窗找出能量最高的三段
func detectHighlights(beatTimes, energy []float64) []model.Highlight {
	windowSize := 64
	if len(beatTimes) < windowSize || len(energy) < windowSize {
		end := 0.0
		if len(beatTimes) > 0 {
			end = beatTimes[len(beatTimes)-1]
		}
		return []model.Highlight{{Start: 0, End: end, PeakTime: 0, Intensity: 0}}
	}

	type candidate struct {
		start, end, peak, score float64
	}
	var candidates []candidate
	for i := 0; i+windowSize <= len(energy); i += 16 {
		sum := 0.0
		peakIdx := i
		for j := i; j < i+windowSize; j++ {
			sum += energy[j]
			if energy[j] > energy[peakIdx] {
				peakIdx = j
			}
		}
		avg := sum / float64(windowSize)
		endIdx := i + windowSize - 1
		if endIdx >= len(beatTimes) {
			endIdx = len(beatTimes) - 1
		}
		candidates = append(candidates, candidate{
			start: beatTimes[i],
			end:   beatTimes[endIdx],
			peak:  beatTimes[peakIdx],
			score: avg,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].start < candidates[j].start
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	highlights := make([]model.Highlight, len(candidates))
	for i, c := range candidates {
		highlights[i] = model.Highlight{Start: c.start, End: c.end, PeakTime: c.peak, Intensity: c.score}
	}
	return highlights
}
