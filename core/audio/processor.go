package audio

// PCM holds decoded mono samples at the source's native sample rate.
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length of the decoded signal in seconds.
func (p *PCM) Duration() float64 {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}
