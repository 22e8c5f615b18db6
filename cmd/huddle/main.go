package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/huddle/session-core/internal/core"
	"github.com/huddle/session-core/internal/messaging"
	"github.com/huddle/session-core/internal/metrics"
	"github.com/huddle/session-core/internal/storage"
	"github.com/huddle/session-core/internal/transport"
	"github.com/huddle/session-core/internal/transport/wsclient"
)

// syntheticCapture produces placeholder frames tagged with a sequence
// number. A real client plugs a camera pipeline in here.
type syntheticCapture struct {
	seq int
}

func (s *syntheticCapture) Capture(context.Context) (string, error) {
	s.seq++
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("synthetic-frame-%d", s.seq))), nil
}

func main() {
	identity := os.Getenv("HUDDLE_IDENTITY")
	if identity == "" {
		identity = "user-" + uuid.NewString()[:8]
	}
	room := os.Getenv("HUDDLE_ROOM")
	if room == "" {
		room = "lobby"
	}
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9100"
	}

	// --- Transport ---
	transportKind := os.Getenv("TRANSPORT")
	if transportKind == "" {
		transportKind = "ws"
	}

	var tr transport.Transport
	var err error
	switch transportKind {
	case "ws":
		config := wsclient.DefaultConfig()
		if v := os.Getenv("WS_URL"); v != "" {
			config.URL = v
		}
		if v := os.Getenv("PING_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				config.PingInterval = d
			}
		}
		if v := os.Getenv("MAX_RECONNECTS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				config.MaxReconnects = n
			}
		}
		tr, err = wsclient.Dial(config)
	case "nats":
		config := messaging.DefaultConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			config.URL = v
		}
		config.Name = "huddle-" + identity
		config.SessionID = uuid.NewString()
		tr, err = messaging.Dial(config)
	default:
		log.Fatalf("unknown TRANSPORT %q (want ws or nats)", transportKind)
	}
	if err != nil {
		log.Fatalf("failed to connect transport: %v", err)
	}

	// --- Storage ---
	storageKind := os.Getenv("STORAGE")
	if storageKind == "" {
		storageKind = "memory"
	}

	var st storage.Store
	switch storageKind {
	case "memory":
		st = storage.NewMemory()
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		st, err = storage.NewRedis(addr)
	case "postgres":
		st, err = storage.NewPostgres(os.Getenv("POSTGRES_DSN"))
	default:
		log.Fatalf("unknown STORAGE %q (want memory, redis or postgres)", storageKind)
	}
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}

	log.Printf("Huddle session client starting")
	log.Printf("  identity:     %s", identity)
	log.Printf("  room:         %s", room)
	log.Printf("  transport:    %s", transportKind)
	log.Printf("  storage:      %s", storageKind)
	log.Printf("  metrics_addr: %s", metricsAddr)

	c := core.New(tr, st, &syntheticCapture{}, core.Config{
		Identity:     identity,
		FallbackRoom: room,
	})
	c.PairingIncoming = func(from string) {
		log.Printf("[main] paired with %s; now in room %s", from, c.ActiveRoom())
	}
	c.PermissionDenied = func() {
		log.Printf("[main] capture permission denied; call frames halted")
	}
	c.Start()

	go func() {
		log.Printf("[metrics] serving on %s", metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[metrics] server stopped: %v", err)
		}
	}()

	go readCommands(c)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	c.Close()
	if err := tr.Close(); err != nil {
		log.Printf("transport close: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("storage close: %v", err)
	}
}

// readCommands drives the session from stdin. Lines starting with a slash
// are commands; anything else is sent as a chat message.
func readCommands(c *core.Core) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := c.SendMessage(line); err != nil {
				log.Printf("[main] send failed: %v", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "pair":
			target := strings.TrimSpace(arg)
			if target == "" {
				// No explicit target: pair with the first other peer.
				peer, ok := c.FirstOtherPeer()
				if !ok {
					log.Printf("[main] no peer to pair with")
					continue
				}
				target = peer.UserID
			}
			if err := c.RequestPairing(target); err != nil {
				log.Printf("[main] pairing failed: %v", err)
			}
		case "call":
			if err := c.PlaceCall(); err != nil {
				log.Printf("[main] call failed: %v", err)
			}
		case "accept":
			if err := c.AcceptCall(); err != nil {
				log.Printf("[main] accept failed: %v", err)
			}
		case "hangup":
			c.Hangup()
		case "peers":
			for _, p := range c.Peers() {
				log.Printf("[main] peer sid=%s user=%s", p.SessionHandle, p.UserID)
			}
		case "status":
			log.Printf("[main] conn=%s room=%s pairing=%s call=%s",
				c.ConnectionState(), c.ActiveRoom(), c.PairingState(), c.CallStatus())
		case "history":
			for _, m := range c.Messages() {
				log.Printf("[main] %s %s: %s", time.UnixMilli(m.CreatedAt).Format(time.RFC3339), m.AuthorID, m.Text)
			}
		default:
			log.Printf("[main] unknown command %q", cmd)
		}
	}
}
