package model

// SelectedSegment is one trimmed slice of a source track inside a mix
// plan. Transition is the crossfade duration into the NEXT segment and
// is zero for the final segment.
type SelectedSegment struct {
	Track      TrackDescriptor
	Analysis   *TrackAnalysis
	TrimIn     float64 // seconds into the source track
	TrimOut    float64 // seconds into the source track, > TrimIn
	Transition float64 // crossfade duration into the next segment, seconds
}

// Usable 返回裁剪后的可用时长
func (s *SelectedSegment) Usable() float64 {
	return s.TrimOut - s.TrimIn
}

// MixPlan 是有序的片段序列，定义最终渲染
type MixPlan struct {
	Genre    string
	Segments []SelectedSegment
}

// TotalDuration returns the planned duration: the sum of usable
// segment durations minus the transition overlaps.
func (p *MixPlan) TotalDuration() float64 {
	total := 0.0
	for i := range p.Segments {
		total += p.Segments[i].Usable()
		if i < len(p.Segments)-1 {
			total -= p.Segments[i].Transition
		}
	}
	return total
}
