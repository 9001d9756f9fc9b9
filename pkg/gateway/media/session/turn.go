package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dialhaus/switchboard/pkg/core/audio"
	"github.com/dialhaus/switchboard/pkg/core/voice"
)

// turnRequest describes one spoken response. A transcript drives the
// generator; scripted turns (greeting, apology) carry the text directly.
type turnRequest struct {
	id         string
	transcript string
	script     string
}

type turnResult struct {
	id     string
	frames int
	err    error
}

type turnHandle struct {
	id     string
	cancel context.CancelFunc
}

// startTurn launches the response pipeline for one turn and returns a
// handle the run loop uses to interrupt it.
func (s *CallSession) startTurn(req turnRequest, done chan<- turnResult, wg *sync.WaitGroup) *turnHandle {
	req.id = s.nextUtteranceID()
	ctx, cancel := context.WithCancel(s.ctx)
	h := &turnHandle{id: req.id, cancel: cancel}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		res := s.runTurn(ctx, req)
		select {
		case done <- res:
		case <-s.ctx.Done():
		}
	}()
	return h
}

// runTurn produces one spoken response: generated token by token from the
// transcript, or the fixed script for greeting and apology turns. Sentences
// are synthesized as soon as the segmenter completes them, so playback
// starts before generation finishes.
func (s *CallSession) runTurn(ctx context.Context, req turnRequest) turnResult {
	res := turnResult{id: req.id}
	chunker := audio.NewFrameChunker(s.cfg.FrameSize)

	emit := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" || ctx.Err() != nil {
			return
		}
		n, err := s.speakFragment(ctx, req.id, text, chunker)
		res.frames += n
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("synthesis fragment dropped", "call_sid", s.callSID, "utterance", req.id, "error", err)
			s.sink.CallEvent(s.callSID, "fragment_dropped", text)
		}
	}

	if req.transcript == "" {
		emit(req.script)
	} else if err := s.generate(ctx, req, emit); err != nil {
		res.err = err
		s.logger.Warn("generation failed, speaking apology", "call_sid", s.callSID, "utterance", req.id, "error", err)
		s.sink.CallEvent(s.callSID, "generation_failed", err.Error())
		emit(s.cfg.Apology)
	}

	if ctx.Err() != nil {
		// Interrupted: residual output for this utterance is discarded.
		return res
	}
	if tail := chunker.Flush(); len(tail) > 0 {
		if err := s.sendMediaFrame(ctx, req.id, tail); err == nil {
			res.frames++
		}
	}
	if res.frames > 0 {
		if err := s.sendMark(ctx, req.id); err != nil && ctx.Err() == nil {
			s.logger.Warn("mark not delivered", "call_sid", s.callSID, "utterance", req.id, "error", err)
		}
	}
	return res
}

// generate streams tokens for the transcript and speaks each completed
// sentence. The returned error is a generator failure (open error, stream
// error, or timeout); interruption returns nil.
func (s *CallSession) generate(ctx context.Context, req turnRequest, emit func(string)) error {
	genCtx := ctx
	if s.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.cfg.GenerationTimeout)
		defer cancel()
	}

	stream, err := s.responder.Respond(genCtx, s.caller, req.transcript)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	buf := voice.NewSentenceBuffer()
	for {
		select {
		case <-genCtx.Done():
			if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return genCtx.Err()
			}
			return nil
		case token, ok := <-stream.Tokens():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				emit(buf.Flush())
				return nil
			}
			for _, sentence := range buf.Add(token) {
				emit(sentence)
			}
		}
	}
}

// speakFragment synthesizes one sentence and streams its audio to the
// transport as line-format frames. The shared chunker keeps frame
// boundaries continuous across fragments of the same response.
func (s *CallSession) speakFragment(ctx context.Context, utteranceID, text string, chunker *audio.FrameChunker) (int, error) {
	syn, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return 0, err
	}
	defer syn.Cancel()

	s.transition(StateListening, StateSpeaking)

	frames := 0
	for {
		select {
		case <-ctx.Done():
			return frames, ctx.Err()
		case pcm, ok := <-syn.Frames():
			if !ok {
				return frames, syn.Err()
			}
			line := audio.EncodeMuLaw(audio.Downsample16kTo8k(pcm))
			for _, frame := range chunker.Push(line) {
				if err := s.sendMediaFrame(ctx, utteranceID, frame); err != nil {
					return frames, err
				}
				frames++
			}
		}
	}
}
