package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/internal/types"
	"github.com/xhad/folio/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the WebSocket frame exchanged with chat clients.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Answerer resolves a question to a cited answer.
type Answerer interface {
	Answer(ctx context.Context, question string, history []models.Message, opts pipeline.AskOptions) (models.Answer, error)
}

// Config holds server settings.
type Config struct {
	Port int
}

// Server exposes the OCR and question-answering pipelines over HTTP.
type Server struct {
	config    Config
	answerer  Answerer
	extractor types.PageExtractor
	store     types.VectorStore
	log       *zap.Logger
}

// New creates a Server with the given collaborators.
func New(config Config, answerer Answerer, extractor types.PageExtractor, store types.VectorStore, log *zap.Logger) *Server {
	if config.Port <= 0 {
		config.Port = 8080
	}
	return &Server{
		config:    config,
		answerer:  answerer,
		extractor: extractor,
		store:     store,
		log:       log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocr", s.requestLogged(s.handleOCR))
	mux.HandleFunc("/llm", s.requestLogged(s.handleLLM))
	mux.HandleFunc("/health", s.requestLogged(s.handleHealth))
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe blocks serving HTTP until the context is canceled or the
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.Int("port", s.config.Port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogged tags each request with an ID and logs its outcome.
func (s *Server) requestLogged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		start := time.Now()
		w.Header().Set("X-Request-ID", requestID)
		next(w, r)
		s.log.Info("request handled",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		s.handleChatMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleChatMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	s.sendMessage(conn, Message{Type: "status", Content: "Searching documents..."})

	answer, err := s.answerer.Answer(ctx, msg.Content, nil, pipeline.AskOptions{})
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: answer.Text})
		return
	}

	s.sendMessage(conn, Message{
		Type:    "response",
		Content: answer.Text,
		Data:    sourceRefs(answer.Sources),
	})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("websocket write failed", zap.Error(err))
	}
}
