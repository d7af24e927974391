package render

import (
	"math"

	"AutoFM/model"
)

// 交叉淡化的纯样本数学。渲染器先把淡化包络乘进每段PCM，再把各段
// 加法叠到画布上，重叠区自然形成交叉淡化。

// applyFadeIn multiplies the first n frames by a rising gain curve.
// Equal-power uses sin(t*pi/2) so that with the matching fade-out the
// summed power stays constant across the overlap.
func applyFadeIn(samples []float32, channels, n int, equalPower bool) {
	if n <= 0 {
		return
	}
	frames := len(samples) / channels
	if n > frames {
		n = frames
	}
	for f := 0; f < n; f++ {
		t := float64(f) / float64(n)
		var g float64
		if equalPower {
			g = math.Sin(t * math.Pi / 2)
		} else {
			g = t
		}
		for c := 0; c < channels; c++ {
			samples[f*channels+c] = float32(float64(samples[f*channels+c]) * g)
		}
	}
}

// applyFadeOut multiplies the last n frames by the complementary
// falling curve, cos(t*pi/2) for equal-power.
func applyFadeOut(samples []float32, channels, n int, equalPower bool) {
	if n <= 0 {
		return
	}
	frames := len(samples) / channels
	if n > frames {
		n = frames
	}
	start := frames - n
	for f := 0; f < n; f++ {
		t := float64(f) / float64(n)
		var g float64
		if equalPower {
			g = math.Cos(t * math.Pi / 2)
		} else {
			g = 1 - t
		}
		for c := 0; c < channels; c++ {
			idx := (start + f) * channels
			samples[idx+c] = float32(float64(samples[idx+c]) * g)
		}
	}
}

// overlayAdd 把 src 加法叠加到 dst 的 offsetFrames 处，必要时扩展 dst
func overlayAdd(dst []float32, src []float32, channels, offsetFrames int) []float32 {
	start := offsetFrames * channels
	need := start + len(src)
	if need > len(dst) {
		grown := make([]float32, need)
		copy(grown, dst)
		dst = grown
	}
	for i, s := range src {
		dst[start+i] += s
	}
	return dst
}

// clampCanvas 防止叠加区削波，超过 ±1 的样本截断
func clampCanvas(canvas []float32) {
	for i, s := range canvas {
		if s > 1 {
			canvas[i] = 1
		} else if s < -1 {
			canvas[i] = -1
		}
	}
}

// alignedTrimIn 把下一段的入点在 ±1 个节拍周期内平移，使其节拍
// 相位对上上一段在拼接点处的相位。任一侧缺节拍网格时原样返回，
// 渲染器随即退回线性淡化。
func alignedTrimIn(from, to model.SelectedSegment) (float64, bool) {
	if len(from.Analysis.BeatTimes) < 2 || len(to.Analysis.BeatTimes) < 2 {
		return to.TrimIn, false
	}

	// 拼接点：上一段开始淡出的位置
	splice := from.TrimOut - from.Transition
	deltaOut := nearestBeatOffset(from.Analysis.BeatTimes, splice)
	deltaIn := nearestBeatOffset(to.Analysis.BeatTimes, to.TrimIn)

	shift := deltaIn - deltaOut
	maxShift := to.Analysis.BeatInterval()
	if maxShift <= 0 {
		return to.TrimIn, false
	}
	if shift > maxShift {
		shift = maxShift
	}
	if shift < -maxShift {
		shift = -maxShift
	}

	in := to.TrimIn + shift
	if in < 0 {
		in = 0
	}
	if in >= to.TrimOut {
		return to.TrimIn, false
	}
	return in, true
}

// nearestBeatOffset 返回距 t 最近的节拍相对 t 的偏移
func nearestBeatOffset(beats []float64, t float64) float64 {
	best := beats[0] - t
	for _, b := range beats[1:] {
		if d := b - t; math.Abs(d) < math.Abs(best) {
			best = d
		}
	}
	return best
}
