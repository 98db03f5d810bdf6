// Package tcpserver implements the line-framed webInkV1 protocol: a
// stateless request/response exchange returning header-less raw pixel
// payloads, for clients with a single fixed receive buffer.
package tcpserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
	"github.com/dfeldman/webink/internal/mode"
	"github.com/dfeldman/webink/internal/snapshot"
)

// protocolName is the required literal first token of every request
// line.
const protocolName = "webInkV1"

// maxLineBytes and readTimeout bound a single request per spec.md §4.8.
const (
	maxLineBytes = 512
	readTimeout  = 5 * time.Second
)

// Server accepts connections and serves webInkV1 requests. Each
// connection runs in a goroutine drawn from a bounded
// sourcegraph/conc pool, giving panic-safe per-connection handling
// with no hand-rolled recover/waitgroup bookkeeping.
type Server struct {
	cfg      *config.Config
	store    *snapshot.Store
	registry *devices.Registry
	log      zerolog.Logger

	maxConns int
}

// New builds a Server. maxConns bounds concurrently handled
// connections; 0 uses a sensible default.
func New(cfg *config.Config, store *snapshot.Store, registry *devices.Registry, log zerolog.Logger, maxConns int) *Server {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Server{cfg: cfg, store: store, registry: registry, log: log, maxConns: maxConns}
}

// Serve accepts connections on ln until ctx is canceled, handling each
// on a pooled goroutine. Accept errors back off via retry-go instead
// of busy-looping or exiting on a transient condition.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	p := pool.New().WithMaxGoroutines(s.maxConns)
	defer p.Wait()

	for {
		conn, err := s.acceptWithBackoff(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tcpserver: accept: %w", err)
		}

		p.Go(func() {
			s.handleConn(conn)
		})
	}
}

func (s *Server) acceptWithBackoff(ctx context.Context, ln net.Listener) (net.Conn, error) {
	return retry.DoWithData(func() (net.Conn, error) {
		return ln.Accept()
	},
		retry.Context(ctx),
		retry.Attempts(0), // retry indefinitely; context cancellation is the only way out
		retry.Delay(50*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			ne, ok := err.(net.Error)
			return ok && (ne.Timeout() || ne.Temporary()) //nolint:staticcheck // Temporary covers EMFILE-style accept errors
		}),
	)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	reader := bufio.NewReaderSize(conn, maxLineBytes)
	raw, err := reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		_, _ = conn.Write([]byte("ERROR: request line too long\n"))
		return
	}
	if err != nil {
		return // timeout or client closed; no response per spec.md §4.8
	}
	line := strings.TrimRight(string(raw), "\r\n")

	resp, isError := s.handleLine(line)
	if isError {
		_, _ = conn.Write([]byte("ERROR: " + resp + "\n"))
		return
	}
	_, _ = conn.Write([]byte(resp))
}

// handleLine validates and serves a single request line, in the exact
// order spec.md §4.8 specifies. Returns (message, isError): on
// success message is the raw response; on error message is the
// human-readable condition with no leading "ERROR:" (handleConn adds
// it).
func (s *Server) handleLine(line string) (string, bool) {
	tokens := strings.Fields(line)
	if len(tokens) != 9 {
		return "malformed request line", true
	}

	if tokens[0] != protocolName {
		return "unknown protocol", true
	}

	if tokens[1] != s.cfg.APIKey {
		return "invalid api_key", true
	}

	deviceName := tokens[2]
	modeStr := tokens[3]

	x, err := strconv.Atoi(tokens[4])
	if err != nil {
		return "invalid x", true
	}
	y, err := strconv.Atoi(tokens[5])
	if err != nil {
		return "invalid y", true
	}
	w, err := strconv.Atoi(tokens[6])
	if err != nil {
		return "invalid w", true
	}
	h, err := strconv.Atoi(tokens[7])
	if err != nil {
		return "invalid h", true
	}

	format := tokens[8]
	var enc snapshot.Encoding
	switch format {
	case "pbm":
		enc = snapshot.EncodingPBM
	case "pgm":
		enc = snapshot.EncodingPGM
	case "ppm":
		enc = snapshot.EncodingPPM
	default:
		return "unsupported format", true
	}

	if !s.cfg.ModeSupported(modeStr) {
		return "unsupported mode", true
	}
	m, err := mode.Parse(modeStr)
	if err != nil {
		return "unsupported mode", true
	}

	s.registry.Upsert(deviceName, devices.Update{Mode: modeStr, ConnectionType: "tcp"})

	pageID, ok := s.resolvePage(deviceName)
	if !ok {
		return "no page resolved for device", true
	}

	if !s.store.Exists(pageID, m) {
		return "bitmap not available", true
	}

	data, _, err := s.store.Crop(pageID, m, x, y, w, h, enc)
	if err != nil {
		return err.Error(), true
	}

	return string(data), false
}

func (s *Server) resolvePage(deviceName string) (string, bool) {
	if d, ok := s.registry.Get(deviceName); ok && d.Page != "" {
		return d.Page, true
	}
	if d, ok := s.cfg.DeviceOrDefault(deviceName); ok && d.Page != "" {
		return d.Page, true
	}
	return "", false
}
