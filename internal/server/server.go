// Package server hosts the engine's HTTP/WebSocket surface. It is transport
// only: every inbound message is decoded, bounded, and handed to the turn
// orchestrator, and outbound traffic flows through the notification registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/loomworks/worldloom/internal/notify"
	"github.com/loomworks/worldloom/internal/platform/id"
	"github.com/loomworks/worldloom/internal/platform/timeouts"
	"github.com/loomworks/worldloom/internal/turn"
	"github.com/loomworks/worldloom/internal/world"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxChatMessageRunes = 2000
)

// Inbound message types.
const (
	typeParticipantOnline = "participant-online"
	typeParticipantJoined = "participant-joined-session"
	typeChatMessage       = "chat-message"
	typeReadyFlag         = "ready-flag"
)

// readyFlagDown lowers a raised ready flag; any other content raises it.
const readyFlagDown = "down"

// wsMessage is the single envelope for inbound websocket traffic.
type wsMessage struct {
	Type            string `json:"type"`
	ParticipantID   string `json:"participantId,omitempty"`
	ParticipantCode string `json:"participantCode,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	SessionCode     string `json:"sessionCode,omitempty"`
	Content         string `json:"content,omitempty"`
}

// TurnEngine is the orchestration surface the transport depends on.
type TurnEngine interface {
	AppendChat(ctx context.Context, sessionCode, authorID, authorCode, message string) error
	MarkReady(ctx context.Context, sessionCode, participantCode string, ready bool, online []string) (bool, error)
	RequestNarrative(ctx context.Context, sessionCode string) (world.Checkpoint, error)
	RequestEdits(ctx context.Context, sessionCode string) error
	History(ctx context.Context, sessionCode string) (turn.History, error)
}

// Config defines the inputs for the engine transport boundary.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the engine HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// wsPeer serializes outbound JSON writes on one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

// Send implements notify.Sender.
func (p *wsPeer) Send(payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(payload)
}

// NewHandler creates the engine routes over the given orchestrator and
// notification registry.
func NewHandler(engine TurnEngine, registry *notify.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, engine, registry)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func handleWSConn(conn *websocket.Conn, engine TurnEngine, registry *notify.Registry) {
	defer func() {
		_ = conn.Close()
	}()

	conn.MaxPayloadBytes = maxFramePayloadBytes
	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	var registered *notify.Connection
	defer func() {
		if registered == nil {
			return
		}
		sessionCode := registered.SessionCode()
		registry.Unregister(registered)
		if sessionCode != "" {
			registry.Notify(sessionCode, notify.UpdateMemberList, map[string]any{
				"members": registry.Members(sessionCode),
			})
		}
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var msg wsMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "invalid message payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, "rate limit exceeded")
			return
		}

		switch msg.Type {
		case typeParticipantOnline:
			registered = handleParticipantOnline(registry, registered, peer, msg)
		case typeParticipantJoined:
			handleParticipantJoined(ctx, engine, registry, registered, peer, msg)
		case typeChatMessage:
			handleChatMessage(ctx, engine, registry, registered, peer, msg)
		case typeReadyFlag:
			handleReadyFlag(ctx, engine, registry, registered, peer, msg)
		default:
			_ = writeWSError(peer, "unsupported message type")
		}
	}
}

func handleParticipantOnline(registry *notify.Registry, registered *notify.Connection, peer *wsPeer, msg wsMessage) *notify.Connection {
	participantCode := strings.TrimSpace(msg.ParticipantCode)
	if participantCode == "" {
		_ = writeWSError(peer, "participantCode is required")
		return registered
	}
	participantID := strings.TrimSpace(msg.ParticipantID)
	if participantID == "" {
		generated, err := id.NewID()
		if err != nil {
			log.Printf("participant id generation failed participant_code=%s err=%v", participantCode, err)
			_ = writeWSError(peer, "could not assign participant id")
			return registered
		}
		participantID = generated
	}

	if registered != nil {
		registry.Unregister(registered)
	}
	return registry.Register(participantID, participantCode, peer)
}

func handleParticipantJoined(ctx context.Context, engine TurnEngine, registry *notify.Registry, registered *notify.Connection, peer *wsPeer, msg wsMessage) {
	if registered == nil {
		_ = writeWSError(peer, "participant-online is required before joining a session")
		return
	}
	sessionCode := strings.TrimSpace(msg.SessionCode)
	if sessionCode == "" {
		_ = writeWSError(peer, "sessionCode is required")
		return
	}

	history, err := engine.History(ctx, sessionCode)
	if err != nil {
		log.Printf("session join failed participant=%s session=%s err=%v", registered.ParticipantCode, sessionCode, err)
		_ = writeWSError(peer, "session is unavailable")
		return
	}

	previous := registered.SessionCode()
	registered.SetSession(sessionCode)
	if previous != "" && previous != sessionCode {
		registry.Notify(previous, notify.UpdateMemberList, map[string]any{
			"members": registry.Members(previous),
		})
	}

	// The joining peer gets its catch-up payload directly; everyone else
	// only sees the roster change.
	_ = peer.Send(map[string]any{
		"type":        string(notify.UpdateHistory),
		"sessionCode": sessionCode,
		"history":     history,
	})
	registry.Notify(sessionCode, notify.UpdateMemberList, map[string]any{
		"members": registry.Members(sessionCode),
	})
}

func handleChatMessage(ctx context.Context, engine TurnEngine, registry *notify.Registry, registered *notify.Connection, peer *wsPeer, msg wsMessage) {
	if registered == nil || registered.SessionCode() == "" {
		_ = writeWSError(peer, "must join a session before chatting")
		return
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		_ = writeWSError(peer, "content is required")
		return
	}
	if utf8.RuneCountInString(content) > maxChatMessageRunes {
		_ = writeWSError(peer, fmt.Sprintf("content must be at most %d characters", maxChatMessageRunes))
		return
	}

	sessionCode := registered.SessionCode()
	if err := engine.AppendChat(ctx, sessionCode, registered.ParticipantID, registered.ParticipantCode, content); err != nil {
		log.Printf("append chat failed participant=%s session=%s err=%v", registered.ParticipantCode, sessionCode, err)
		_ = writeWSError(peer, "chat message was not recorded")
		return
	}

	registry.Notify(sessionCode, notify.UpdateHistory, map[string]any{
		"chat": map[string]any{
			"authorId":   registered.ParticipantID,
			"authorCode": registered.ParticipantCode,
			"message":    content,
		},
	})
}

func handleReadyFlag(ctx context.Context, engine TurnEngine, registry *notify.Registry, registered *notify.Connection, peer *wsPeer, msg wsMessage) {
	if registered == nil || registered.SessionCode() == "" {
		_ = writeWSError(peer, "must join a session before raising a ready flag")
		return
	}

	sessionCode := registered.SessionCode()
	ready := !strings.EqualFold(strings.TrimSpace(msg.Content), readyFlagDown)
	online := registry.Members(sessionCode)

	quorum, err := engine.MarkReady(ctx, sessionCode, registered.ParticipantCode, ready, online)
	if err != nil {
		log.Printf("ready flag failed participant=%s session=%s err=%v", registered.ParticipantCode, sessionCode, err)
		_ = writeWSError(peer, "ready flag was not recorded")
		return
	}
	if !quorum {
		return
	}

	// Generation runs detached from the triggering connection so a dropped
	// peer cannot cancel a turn commit mid-flight.
	go func() {
		genCtx := context.Background()
		if _, err := engine.RequestNarrative(genCtx, sessionCode); err != nil {
			log.Printf("narrative generation failed session=%s err=%v", sessionCode, err)
			return
		}
		if err := engine.RequestEdits(genCtx, sessionCode); err != nil {
			log.Printf("edit generation failed session=%s err=%v", sessionCode, err)
		}
	}()
}

func writeWSError(peer *wsPeer, message string) error {
	return peer.Send(map[string]any{
		"type":    "ERROR",
		"message": message,
	})
}

// NewServer builds a configured engine server.
func NewServer(config Config, engine TurnEngine, registry *notify.Registry) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(engine, registry),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("engine server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("engine server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
