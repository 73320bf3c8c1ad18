package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrMalformedWAV is returned when a RIFF/WAV container cannot be decoded.
var ErrMalformedWAV = errors.New("audio: malformed wav")

// WAV is a decoded PCM WAV clip.
type WAV struct {
	SampleRate int
	Channels   int

	// Data is 16-bit little-endian interleaved PCM.
	Data []byte
}

// Mono returns the clip's PCM downmixed to a single channel.
func (w *WAV) Mono() []byte {
	if w.Channels == 2 {
		return StereoToMono(w.Data)
	}
	return w.Data
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM RIFF/WAV container. Unknown chunks (LIST,
// fact, ...) are skipped. Any other encoding returns [ErrMalformedWAV].
func DecodeWAV(data []byte) (*WAV, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformedWAV)
	}

	var (
		w      WAV
		gotFmt bool
	)
	r := bytes.NewReader(data[12:])
	for {
		var hdr struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: chunk header: %v", ErrMalformedWAV, err)
		}
		if int64(hdr.Size) > int64(r.Len()) {
			// Streaming encoders sometimes write a bogus data size; take what is there.
			if string(hdr.ID[:]) != "data" {
				return nil, fmt.Errorf("%w: chunk %q truncated", ErrMalformedWAV, hdr.ID[:])
			}
			hdr.Size = uint32(r.Len())
		}
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: chunk %q: %v", ErrMalformedWAV, hdr.ID[:], err)
		}
		if hdr.Size%2 == 1 {
			_, _ = r.ReadByte() // pad byte
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrMalformedWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return nil, fmt.Errorf("%w: unsupported encoding format=%d bits=%d", ErrMalformedWAV, format, bits)
			}
			w.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt", ErrMalformedWAV)
			}
			w.Data = body
			if w.Channels < 1 || w.Channels > 2 || w.SampleRate <= 0 {
				return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrMalformedWAV, w.Channels, w.SampleRate)
			}
			return &w, nil
		}
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrMalformedWAV)
}

// ReadWAVFile loads and decodes the WAV file at path.
func ReadWAVFile(path string) (*WAV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	w, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return w, nil
}

// WriteFileAtomic replaces the file at path with data. The content is written
// to a temporary file in the same directory and renamed over path, so
// readers see either the previous or the new artifact, never a partial one.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audio: create dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("audio: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("audio: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("audio: close %q: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("audio: replace %q: %w", path, err)
	}
	return nil
}

// WriteWAVFile encodes mono 16-bit PCM at sampleRate and atomically replaces
// the file at path.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	return WriteFileAtomic(path, EncodeWAV(pcm, sampleRate, 1))
}
