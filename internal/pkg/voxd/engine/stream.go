package engine

import (
	"context"
	"io"
	"sync"

	"voxd/internal/pkg/voxd/audio"
)

// SynthFunc synthesizes a single sentence-level unit.
type SynthFunc func(ctx context.Context, sentence string) (*audio.Audio, error)

// Stream lazily synthesizes a sequence of sentence units, one per Next call.
// Nothing is computed ahead of the consumer: the first chunk is available
// without buffering the rest. A Stream is finite and not restartable; each
// SynthesizeStream call produces a fresh one.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	synth  SynthFunc

	mu        sync.Mutex
	sentences []string
	pos       int
}

// NewStream builds a stream over pre-split sentence units. Backends produce
// the units with text.SplitSentences and supply their single-sentence
// synthesis function.
func NewStream(ctx context.Context, sentences []string, synth SynthFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:       ctx,
		cancel:    cancel,
		synth:     synth,
		sentences: sentences,
	}
}

// Next synthesizes and returns the next unit. io.EOF signals normal
// exhaustion. After Close (or parent context cancellation) Next returns the
// context error instead of running further inference.
func (s *Stream) Next() (*audio.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.sentences) {
		return nil, io.EOF
	}

	sentence := s.sentences[s.pos]
	s.pos++

	out, err := s.synth(s.ctx, sentence)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the total number of units the stream will produce.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sentences)
}

// Close terminates the stream early. Safe to call multiple times and after
// exhaustion. In-flight synthesis observes the cancellation through the
// stream context.
func (s *Stream) Close() {
	s.cancel()
}
