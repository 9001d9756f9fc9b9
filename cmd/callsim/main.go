// Command callsim dials a running gateway and plays the provider's side
// of a phone call: it opens the media stream, sends caller audio, and
// reports everything the bot sends back. Handy for exercising a gateway
// end to end without a phone line:
//
//	callsim -gateway http://localhost:8080 -out bot.ulaw
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dialhaus/switchboard/pkg/gateway/media/protocol"
)

type options struct {
	gateway   string
	from      string
	callSID   string
	audioPath string
	toneMS    int
	silenceMS int
	outPath   string
	echoMarks bool
	debug     bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opt options
	flag.StringVar(&opt.gateway, "gateway", "", "Gateway base URL (http(s)://host:port or ws(s)://...); required")
	flag.StringVar(&opt.from, "from", "+15550001000", "Caller number sent in the stream start parameters")
	flag.StringVar(&opt.callSID, "call-sid", "", "Call SID to report (default: generated)")
	flag.StringVar(&opt.audioPath, "audio", "", "Raw 8kHz mu-law file played as caller speech (default: synthetic tone)")
	flag.IntVar(&opt.toneMS, "tone-ms", 1500, "Synthetic tone duration in ms when -audio is not set")
	flag.IntVar(&opt.silenceMS, "silence-ms", 4000, "Trailing silence in ms before hanging up")
	flag.StringVar(&opt.outPath, "out", "", "Write bot audio to this file (raw 8kHz mu-law; play with: ffplay -f mulaw -ar 8000 FILE)")
	flag.BoolVar(&opt.echoMarks, "echo-marks", true, "Echo playback marks back like the provider does")
	flag.BoolVar(&opt.debug, "debug", false, "Log every stream event")
	flag.Parse()

	if strings.TrimSpace(opt.gateway) == "" {
		fmt.Fprintln(os.Stderr, "-gateway is required")
		return 2
	}
	if opt.toneMS <= 0 {
		fmt.Fprintln(os.Stderr, "-tone-ms must be > 0")
		return 2
	}
	if opt.silenceMS < 0 {
		fmt.Fprintln(os.Stderr, "-silence-ms must be >= 0")
		return 2
	}
	if strings.TrimSpace(opt.callSID) == "" {
		opt.callSID = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	frames, err := callerFrames(opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load caller audio:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL, err := streamWSURL(opt.gateway)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -gateway:", err)
		return 2
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial websocket:", err)
		return 1
	}
	defer conn.Close()

	sim := &simulator{
		conn:      conn,
		opt:       opt,
		streamSID: "MZ" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		frames:    frames,
	}
	return sim.run(ctx)
}

// streamWSURL turns a gateway base URL into the media stream endpoint.
func streamWSURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/stream"
	}
	return u.String(), nil
}

type simulator struct {
	conn      *websocket.Conn
	opt       options
	streamSID string
	frames    [][]byte

	writeMu sync.Mutex

	mu         sync.Mutex
	sentFrames int
	botFrames  int
	marks      int
	clears     int
	botAudio   []byte
}

func (s *simulator) sendJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *simulator) run(ctx context.Context) int {
	readErrCh := make(chan error, 1)
	go func() { readErrCh <- s.readLoop() }()

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- s.sendLoop(ctx) }()

	code := 0
	select {
	case <-ctx.Done():
		_ = s.sendStop()
		_ = s.conn.Close()
	case err := <-readErrCh:
		if err != nil {
			fmt.Fprintln(os.Stderr, "read loop:", err)
			code = 1
		}
	case err := <-sendErrCh:
		if err != nil {
			fmt.Fprintln(os.Stderr, "send loop:", err)
			code = 1
		} else {
			// Caller audio is done and stop was sent; give the gateway a
			// moment to hang up from its side.
			select {
			case <-ctx.Done():
				_ = s.conn.Close()
			case err := <-readErrCh:
				if err != nil {
					fmt.Fprintln(os.Stderr, "read loop:", err)
					code = 1
				}
			case <-time.After(10 * time.Second):
				fmt.Fprintln(os.Stderr, "timed out waiting for hangup")
				_ = s.conn.Close()
			}
		}
	}

	s.report()
	return code
}

// sendLoop plays the call from the provider side: handshake, start,
// paced media frames, then stop.
func (s *simulator) sendLoop(ctx context.Context) error {
	if err := s.sendJSON(protocol.Connected{Event: "connected", Protocol: "Call", Version: "1.0.0"}); err != nil {
		return err
	}
	start := protocol.Start{
		Event:     "start",
		StreamSid: s.streamSID,
		Start: protocol.StartPayload{
			StreamSid: s.streamSID,
			CallSid:   s.opt.callSID,
			Tracks:    []string{"inbound"},
			MediaFormat: protocol.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: lineSampleRate,
				Channels:   1,
			},
			CustomParameters: map[string]string{
				"from":    s.opt.from,
				"callSid": s.opt.callSID,
			},
		},
	}
	if err := s.sendJSON(start); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "call started: stream=%s call=%s caller_frames=%d\n", s.streamSID, s.opt.callSID, len(s.frames))

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for i, frame := range s.frames {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		msg := protocol.Media{
			Event:          "media",
			SequenceNumber: strconv.Itoa(i + 2),
			StreamSid:      s.streamSID,
			Media: protocol.MediaPayload{
				Track:     "inbound",
				Chunk:     strconv.Itoa(i + 1),
				Timestamp: strconv.Itoa(i * 20),
				Payload:   base64.StdEncoding.EncodeToString(frame),
			},
		}
		if err := s.sendJSON(msg); err != nil {
			return err
		}
		s.mu.Lock()
		s.sentFrames++
		s.mu.Unlock()
	}

	return s.sendStop()
}

func (s *simulator) sendStop() error {
	return s.sendJSON(protocol.Stop{
		Event:     "stop",
		StreamSid: s.streamSID,
		Stop:      protocol.StopPayload{CallSid: s.opt.callSID},
	})
}

// readLoop consumes bot-to-line messages until the gateway hangs up.
func (s *simulator) readLoop() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var envelope struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			fmt.Fprintf(os.Stderr, "unparseable frame from gateway: %s\n", data)
			continue
		}
		switch envelope.Event {
		case "media":
			var msg protocol.OutboundMedia
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				fmt.Fprintln(os.Stderr, "bad media payload from gateway")
				continue
			}
			s.mu.Lock()
			s.botFrames++
			s.botAudio = append(s.botAudio, chunk...)
			s.mu.Unlock()
			if s.opt.debug {
				fmt.Fprintf(os.Stderr, "[bot] media %d bytes\n", len(chunk))
			}
		case "mark":
			var msg protocol.OutboundMark
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.mu.Lock()
			s.marks++
			s.mu.Unlock()
			fmt.Fprintf(os.Stderr, "[bot] finished speaking (mark %q)\n", msg.Mark.Name)
			// The provider echoes marks once playback finishes; the
			// simulator has no playback, so it echoes right away.
			if s.opt.echoMarks {
				echo := protocol.Mark{
					Event:     "mark",
					StreamSid: s.streamSID,
					Mark:      protocol.MarkPayload{Name: msg.Mark.Name},
				}
				if err := s.sendJSON(echo); err != nil {
					return err
				}
			}
		case "clear":
			s.mu.Lock()
			s.clears++
			s.mu.Unlock()
			fmt.Fprintln(os.Stderr, "[bot] cleared playback (barge-in)")
		default:
			if s.opt.debug {
				fmt.Fprintf(os.Stderr, "[bot] %s event\n", envelope.Event)
			}
		}
	}
}

func (s *simulator) report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentMS := s.sentFrames * 20
	botMS := len(s.botAudio) * 1000 / lineSampleRate
	fmt.Fprintf(os.Stderr, "call finished: caller sent %d frames (%.1fs), bot sent %d frames (%.1fs), marks=%d clears=%d\n",
		s.sentFrames, float64(sentMS)/1000, s.botFrames, float64(botMS)/1000, s.marks, s.clears)

	if s.opt.outPath == "" || len(s.botAudio) == 0 {
		return
	}
	if err := os.WriteFile(s.opt.outPath, s.botAudio, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write bot audio:", err)
		return
	}
	fmt.Fprintf(os.Stderr, "bot audio written to %s\n", s.opt.outPath)
}
