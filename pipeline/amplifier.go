package pipeline

type AmplifierConfig struct {
	Factor        float64 `toml:"factor"`
	MinThreshold  float64 `toml:"min_threshold"`
	MaxThreshold  float64 `toml:"max_threshold"`
	QuietBaseline float64 `toml:"quiet_baseline"`
}

func DefaultAmplifierConfig() AmplifierConfig {
	return AmplifierConfig{
		Factor:        3.0,
		MinThreshold:  0.02,
		MaxThreshold:  1.0,
		QuietBaseline: 0.005,
	}
}

// Amplifier boosts quiet microphone levels into a range that reads well as
// a waveform. Input at or below the quiet baseline is pinned to it so
// silence stays flat. NaN counts as silence.
type Amplifier struct {
	Stage
	cfg AmplifierConfig
}

func NewAmplifier(cfg AmplifierConfig) *Amplifier {
	return &Amplifier{cfg: cfg}
}

func (a *Amplifier) Amplify(x float64) float64 {
	if x != x || x <= a.cfg.QuietBaseline {
		return a.cfg.QuietBaseline
	}
	y := x * a.cfg.Factor
	if y < a.cfg.MinThreshold {
		return a.cfg.MinThreshold
	}
	if y > a.cfg.MaxThreshold {
		return a.cfg.MaxThreshold
	}
	return y
}

func (a *Amplifier) ConsumeSignal(s SignalData) error {
	a.Emit(s.WithAmplitude("amplifier", a.Amplify(s.Amplitude)))
	return nil
}
