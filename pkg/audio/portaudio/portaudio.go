// Package portaudio binds the [audio.Opener] and [audio.Player] interfaces to
// the default system input and output devices via PortAudio.
//
// The real implementation is only compiled with the "portaudio" build tag,
// since it needs the PortAudio C library at link time. Without the tag
// [NewSystem] returns [ErrUnavailable].
package portaudio

import "errors"

// ErrUnavailable is returned by [NewSystem] when the binary was built without
// PortAudio support.
var ErrUnavailable = errors.New("portaudio: not compiled in (build with -tags portaudio)")
