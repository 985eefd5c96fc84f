package pipeline

// Stage is embedded by processors. It owns the downstream consumers and
// forwards text and raw audio unchanged, so a stage that only transforms
// signals never swallows the other kinds.
type Stage struct {
	next Dispatcher
}

// Then registers a downstream consumer.
func (s *Stage) Then(c any) func() {
	return s.next.Register(c)
}

// Emit sends a derived signal downstream.
func (s *Stage) Emit(sig SignalData) {
	s.next.PublishSignal(sig)
}

func (s *Stage) ConsumeText(t TextData) error {
	s.next.PublishText(t)
	return nil
}

func (s *Stage) ConsumeRawAudio(a RawAudioData) error {
	s.next.PublishRawAudio(a)
	return nil
}
