package session

import (
	"errors"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr"
)

// volumeFeature exports the playback volume. The device reports its
// own step count; valid volumes are 0..steps-1.
type volumeFeature struct {
	s     *Session
	steps uint8
}

func (f *volumeFeature) update(volume uint8) {
	f.s.props.set(ifacePlaybackVolume, "Volume", volume)
}

// SetVolume sets the playback volume.
func (f *volumeFeature) SetVolume(volume uint8) *dbus.Error {
	return f.s.invoke(func(reply chan<- *dbus.Error) { f.setVolume(volume, reply) })
}

func (f *volumeFeature) setVolume(volume uint8, reply chan<- *dbus.Error) {
	s := f.s
	if !s.alive() {
		reply <- errDisconnected()
		return
	}
	if volume >= f.steps {
		reply <- errInvalidArgs("volume %d out of range: device reports %d steps",
			volume, f.steps)
		return
	}
	s.ref()
	err := s.engine.SetPlaybackVolume(volume,
		func() {
			if s.alive() {
				f.update(volume)
			}
			reply <- nil
			s.unref()
		},
		func(err error) {
			reply <- errFailed(err)
			s.unref()
		},
	)
	if err != nil {
		s.unref()
		reply <- errFailed(err)
	}
}

func (s *Session) probePlaybackVolume() {
	s.ref()
	s.beginRegistration()
	err := s.engine.GetPlaybackVolume(
		func(st mdr.VolumeState) { s.volumeProbed(st) },
		func(err error) { s.probeFailed("playback-volume", err) },
	)
	if err != nil {
		s.probeIssueFailed("playback-volume", err)
	}
}

func (s *Session) volumeProbed(st mdr.VolumeState) {
	defer s.probeSettled()
	if !s.alive() {
		return
	}
	if st.Steps == 0 {
		s.log.Warn("probe failed", "device", s.identity,
			"feature", "playback-volume", "err", errors.New("device reports zero volume steps"))
		return
	}
	f := &volumeFeature{s: s, steps: st.Steps}
	if !s.export(ifacePlaybackVolume, f) {
		return
	}
	s.props.set(ifacePlaybackVolume, "Steps", st.Steps)
	f.update(st.Volume)
	s.engine.SubscribePlaybackVolume(f.update)
	s.volume = f
}
