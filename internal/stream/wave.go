// SPDX-License-Identifier: AGPL-3.0-or-later
package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/speechgraph/sgraph/internal/graph"
)

// sampleRate, bitsPerSample and channels are the only format this system
// accepts, per §4.9: "16 kHz / 16-bit / mono".
const (
	sampleRate    = 16000
	bitsPerSample = 16
	channels      = 1
)

// SpeechFunc classifies one chunk of raw samples as speech (true) or
// silence (false); it is the plug-in point a caller wires a VAD library
// into.
type SpeechFunc func(chunk []int16) bool

// sampleSource reads raw little-endian int16 PCM samples, returning
// io.EOF once exhausted — the shared abstraction behind both the wave-file
// reader and the microphone-handle recorder.
type sampleSource interface {
	ReadSamples(buf []int16) (int, error)
}

// fileSource wraps an *os.File positioned at the start of WAV sample data.
type fileSource struct{ f *os.File }

func (s fileSource) ReadSamples(buf []int16) (int, error) {
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(s.f, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if err == io.ErrUnexpectedEOF {
		err = nil // a final, short chunk is not itself an error
	}
	return samples, err
}

// readerSource wraps an arbitrary io.Reader (a microphone handle) assumed
// to already yield raw little-endian int16 PCM, per §4.9's "wave recorder:
// same semantics but sourced from a microphone handle".
type readerSource struct{ r io.Reader }

func (s readerSource) ReadSamples(buf []int16) (int, error) {
	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(s.r, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return samples, err
}

// openWaveFile validates a RIFF/WAVE file's fmt chunk against the
// 16kHz/16-bit/mono requirement and seeks to the start of its data chunk.
func openWaveFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream: opening %s: %w", path, err)
	}

	var riffHeader [12]byte
	if _, err := io.ReadFull(f, riffHeader[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("stream: reading RIFF header of %s: %w", path, err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		f.Close()
		return nil, fmt.Errorf("stream: %s is not a RIFF/WAVE file", path)
	}

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("stream: %s: truncated before a data chunk: %w", path, err)
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch id {
		case "fmt ":
			var fmtBody [16]byte
			if _, err := io.ReadFull(f, fmtBody[:]); err != nil {
				f.Close()
				return nil, fmt.Errorf("stream: %s: truncated fmt chunk: %w", path, err)
			}
			gotRate := binary.LittleEndian.Uint32(fmtBody[4:8])
			gotChannels := binary.LittleEndian.Uint16(fmtBody[2:4])
			gotBits := binary.LittleEndian.Uint16(fmtBody[14:16])
			if gotRate != sampleRate || gotChannels != channels || gotBits != bitsPerSample {
				f.Close()
				return nil, fmt.Errorf("%w: %s: expected %dHz/%d-bit/%dch, got %dHz/%d-bit/%dch",
					graph.ErrShapeMismatch, path, sampleRate, bitsPerSample, channels, gotRate, gotBits, gotChannels)
			}
			if rem := int64(size) - 16; rem > 0 {
				if _, err := f.Seek(rem, io.SeekCurrent); err != nil {
					f.Close()
					return nil, err
				}
			}
		case "data":
			return f, nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				f.Close()
				return nil, fmt.Errorf("stream: %s: seeking past chunk %q: %w", path, id, err)
			}
		}
	}
}

// ReaderOptions configures a WaveReader/WaveRecorder.
type ReaderOptions struct {
	ChunkSize int // samples per read
	Simulate  bool
	IsSpeech  SpeechFunc
	Patience  int
	Truncate  bool
	OutKey    string
}

// Reader is the C9 source stage emitting one Element packet per sample,
// chunkSize samples per internal read, optionally gated by a VAD.
type Reader struct {
	src      sampleSource
	opts     ReaderOptions
	vad      *VAD
	timeSpan time.Duration
	idSeq    int64
	id       uint64
	f        *os.File
}

// NewWaveReader opens a 16kHz/16-bit/mono wave file and returns a source
// Reader over it. The caller wires the returned *Reader into a Stage with
// a nil input queue.
func NewWaveReader(path string, opts ReaderOptions) (*Reader, error) {
	f, err := openWaveFile(path)
	if err != nil {
		return nil, err
	}
	r := newReader(fileSource{f: f}, opts)
	r.f = f
	return r, nil
}

// NewWaveRecorder wraps an arbitrary microphone handle (anything producing
// raw little-endian int16 PCM at 16kHz/16-bit/mono) in a source Reader with
// the same packet shape as NewWaveReader.
func NewWaveRecorder(handle io.Reader, opts ReaderOptions) *Reader {
	return newReader(readerSource{r: handle}, opts)
}

func newReader(src sampleSource, opts ReaderOptions) *Reader {
	if opts.OutKey == "" {
		opts.OutKey = graph.MainKey
	}
	var vad *VAD
	if opts.IsSpeech != nil {
		vad = NewVAD(opts.Patience, opts.Truncate)
	}
	return &Reader{
		src:      src,
		opts:     opts,
		vad:      vad,
		timeSpan: time.Duration(float64(opts.ChunkSize)/sampleRate*1e9) * time.Nanosecond,
		id:       graph.NextProducerID(),
	}
}

// Close releases the underlying file, if this Reader owns one.
func (r *Reader) Close() error {
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

// Process implements graph.Worker for a source stage (in is always the
// zero Packet; this is a nil-input stage per graph.Stage.decide).
func (r *Reader) Process(ctx context.Context, _ graph.Packet, out *graph.Queue) error {
	buf := make([]int16, r.opts.ChunkSize)
	n, err := r.src.ReadSamples(buf)
	if n == 0 {
		out.Stop()
		if err == io.EOF {
			return nil
		}
		return err
	}
	chunk := buf[:n]

	decision := DecisionKeep
	if r.vad != nil {
		decision = r.vad.Detect(r.opts.IsSpeech(chunk))
	}

	switch decision {
	case DecisionDrop:
		// silently discarded, no packet emitted
	case DecisionTruncate:
		if err := out.Put(ctx, graph.NewEndpoint(r.nextID(), r.id)); err != nil {
			return err
		}
	case DecisionKeep:
		for _, s := range chunk {
			p := graph.NewElement(r.nextID(), r.id, graph.Element{I: int64(s), IsFloat: false})
			if r.opts.OutKey != graph.MainKey {
				p = p.With(r.opts.OutKey, p.MainElement())
			}
			if err := out.Put(ctx, p); err != nil {
				return err
			}
		}
	}

	if n < r.opts.ChunkSize {
		out.Stop()
		return nil
	}
	if r.opts.Simulate {
		select {
		case <-time.After(r.timeSpan):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Reader) nextID() int64 {
	r.idSeq++
	return r.idSeq
}
