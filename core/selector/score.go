package selector

import (
	"math"
	"strings"

	"AutoFM/model"
)

// 相邻曲目的兼容性打分。三个分量都在 0..1，加权和也在 0..1。
// 打分必须是纯函数：同样的两份分析结果永远给出同样的分数。

// tempoMultiples 是允许的速度比目标，整数倍与半整数倍给部分分
var tempoMultiples = []struct {
	ratio  float64
	credit float64
}{
	{1.0, 1.0},
	{2.0, 0.85},
	{1.5, 0.7},
}

// tempoScore 衡量两个BPM的比值与简单倍数的接近程度
func tempoScore(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	ratio := a / b
	if ratio < 1 {
		ratio = 1 / ratio
	}

	best := 0.0
	for _, m := range tempoMultiples {
		// 12% 的相对偏差带内线性衰减
		dev := math.Abs(ratio-m.ratio) / (0.12 * m.ratio)
		if dev > 1 {
			continue
		}
		if s := m.credit * (1 - dev); s > best {
			best = s
		}
	}
	return best
}

// keyNeutralScore is what an unknown key contributes: neither rewarded
// nor punished.
const keyNeutralScore = 0.6

// keyScore 基于五度圈距离打分，unknown 取中性分
func keyScore(a, b model.MusicalKey) float64 {
	if a.Unknown() || b.Unknown() {
		return keyNeutralScore
	}
	pcA, majorA, okA := parseKey(a)
	pcB, majorB, okB := parseKey(b)
	if !okA || !okB {
		return keyNeutralScore
	}

	// 小调折算到关系大调后，两个调落在五度圈同一位置即视为相同
	posA := circlePosition(pcA, majorA)
	posB := circlePosition(pcB, majorB)
	dist := posA - posB
	if dist < 0 {
		dist = -dist
	}
	if dist > 6 {
		dist = 12 - dist
	}

	switch dist {
	case 0:
		if majorA == majorB {
			return 1.0 // 同调
		}
		return 0.9 // 关系大小调
	case 1:
		return 0.8
	case 2:
		return 0.5
	case 3:
		return 0.3
	default:
		return 0.1
	}
}

// circlePosition maps a pitch class to its position on the circle of
// fifths, folding minor keys onto their relative major.
func circlePosition(pc int, major bool) int {
	if !major {
		pc = (pc + 3) % 12 // A minor -> C major
	}
	return (pc * 7) % 12
}

var pitchClasses = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "F": 5,
	"F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

// parseKey 解析 "C Major" / "A Minor" 形式的调名
func parseKey(k model.MusicalKey) (pc int, major bool, ok bool) {
	parts := strings.Fields(string(k))
	if len(parts) != 2 {
		return 0, false, false
	}
	pc, ok = pitchClasses[parts[0]]
	if !ok {
		return 0, false, false
	}
	switch strings.ToLower(parts[1]) {
	case "major":
		return pc, true, true
	case "minor":
		return pc, false, true
	default:
		return 0, false, false
	}
}

// energyScore 比较上一曲结尾与下一曲开头的能量水平，差异越小越好
func energyScore(prev, next *model.TrackAnalysis) float64 {
	tail := envelopeMean(prev.Energy, 0.75, 1.0)
	head := envelopeMean(next.Energy, 0.0, 0.25)
	return 1 - math.Abs(tail-head)
}

// envelopeMean 取包络在 [fromFrac, toFrac) 时间区间内的平均能量
func envelopeMean(points []model.EnergyPoint, fromFrac, toFrac float64) float64 {
	if len(points) == 0 {
		return 0.5
	}
	span := points[len(points)-1].Time
	if span <= 0 {
		return 0.5
	}
	sum := 0.0
	count := 0
	for _, p := range points {
		frac := p.Time / span
		if frac >= fromFrac && frac < toFrac {
			sum += p.Level
			count++
		}
	}
	if count == 0 {
		return 0.5
	}
	return sum / float64(count)
}

// Compatibility 计算相邻两曲的加权兼容性分数
func Compatibility(w Weights, prev, next *model.TrackAnalysis) float64 {
	total := w.Tempo + w.Key + w.Energy
	if total <= 0 {
		return 0
	}
	score := w.Tempo*tempoScore(prev.BPM, next.BPM) +
		w.Key*keyScore(prev.Key, next.Key) +
		w.Energy*energyScore(prev, next)
	return score / total
}
