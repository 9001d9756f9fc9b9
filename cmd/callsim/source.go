package main

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dialhaus/switchboard/pkg/core/audio"
)

const (
	lineSampleRate = 8000
	frameDuration  = 20 * time.Millisecond
	frameBytes     = audio.DefaultFrameSize

	toneHz        = 440.0
	toneAmplitude = 9000
)

// muLawSilence is the mu-law code for a zero sample, used to pad frames
// and to fill the quiet stretch that lets the bot answer.
var muLawSilence = audio.EncodeMuLaw([]byte{0, 0})[0]

// callerFrames builds the caller's side of the call as 20ms line
// frames: a recorded mu-law capture when -audio is set, otherwise a
// synthetic tone, followed by trailing silence.
func callerFrames(opt options) ([][]byte, error) {
	var speech []byte
	if path := strings.TrimSpace(opt.audioPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%s: empty audio file", path)
		}
		speech = data
	} else {
		speech = toneMuLaw(time.Duration(opt.toneMS) * time.Millisecond)
	}
	stream := append(speech, silenceMuLaw(time.Duration(opt.silenceMS)*time.Millisecond)...)
	return sliceFrames(stream), nil
}

// toneMuLaw synthesizes a sine tone loud enough to register as speech
// on the gateway's energy gate.
func toneMuLaw(d time.Duration) []byte {
	samples := int(d.Seconds() * lineSampleRate)
	pcm := make([]byte, 0, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(toneAmplitude * math.Sin(2*math.Pi*toneHz*float64(i)/lineSampleRate))
		pcm = append(pcm, byte(v), byte(v>>8))
	}
	return audio.EncodeMuLaw(pcm)
}

func silenceMuLaw(d time.Duration) []byte {
	out := make([]byte, int(d.Seconds()*lineSampleRate))
	for i := range out {
		out[i] = muLawSilence
	}
	return out
}

// sliceFrames cuts a mu-law stream into frame-sized chunks, padding the
// final chunk out to a full frame with silence.
func sliceFrames(stream []byte) [][]byte {
	frames := make([][]byte, 0, (len(stream)+frameBytes-1)/frameBytes)
	for off := 0; off < len(stream); off += frameBytes {
		if end := off + frameBytes; end <= len(stream) {
			frames = append(frames, stream[off:end])
			continue
		}
		tail := make([]byte, frameBytes)
		n := copy(tail, stream[off:])
		for i := n; i < frameBytes; i++ {
			tail[i] = muLawSilence
		}
		frames = append(frames, tail)
	}
	return frames
}
