//go:build !portaudio

package portaudio

import "github.com/MrWong99/tara/pkg/audio"

// System is unavailable in this build.
type System struct{}

// NewSystem always fails with [ErrUnavailable] in builds without the
// "portaudio" tag.
func NewSystem() (*System, error) { return nil, ErrUnavailable }

// Open implements [audio.Opener].
func (*System) Open(int, int) (audio.FrameSource, error) { return nil, ErrUnavailable }

// Load implements [audio.Player].
func (*System) Load(string) (audio.Playback, error) { return nil, ErrUnavailable }

// Close is a no-op.
func (*System) Close() error { return nil }

var (
	_ audio.Opener = (*System)(nil)
	_ audio.Player = (*System)(nil)
)
