package session

import "mdrd/internal/mdr"

// leftRightFeature exports the earbud connection-pair status.
type leftRightFeature struct {
	s *Session
}

func (f *leftRightFeature) update(st mdr.LeftRightStatus) {
	f.s.props.setMany(ifaceLeftRight, map[string]interface{}{
		"LeftConnected":  st.LeftConnected,
		"RightConnected": st.RightConnected,
	})
}

func (s *Session) probeLeftRight() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetLeftRight(
		func(st mdr.LeftRightStatus) { s.leftRightProbed(st) },
		func(err error) { s.probeFailed("left-right", err) },
	)
	if err != nil {
		s.probeIssueFailed("left-right", err)
	}
}

func (s *Session) leftRightProbed(st mdr.LeftRightStatus) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	f := &leftRightFeature{s: s}
	if !s.export(ifaceLeftRight, f) {
		return
	}
	f.update(st)
	s.engine.SubscribeLeftRight(f.update)
	s.leftRight = f
}
