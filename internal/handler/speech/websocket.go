package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/z-voice/backend/internal/service/speech"
)

const (
	eofMessage     = "EOF"
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	outboundBuffer = 64
	turnQueue      = 8
)

// StreamService 抽象实时语音链路
type StreamService interface {
	OpenTranscription(ctx context.Context) (speechsvc.Transcription, error)
	RunTurn(ctx context.Context, req speechsvc.TurnRequest) (*speechsvc.TurnResult, error)
}

// DumpStore 为调试保存原始音频流
type DumpStore interface {
	Create(prefix, ext string) (*os.File, error)
}

// WebSocketOptions 控制实时语音连接的可选行为
type WebSocketOptions struct {
	Dumps   DumpStore
	Metrics *metrics.Metrics
}

// WebSocketHandler WebSocket语音处理器
type WebSocketHandler struct {
	speechSvc StreamService
	dumps     DumpStore
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	log       zerolog.Logger

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(speechSvc StreamService, opts WebSocketOptions) *WebSocketHandler {
	return &WebSocketHandler{
		speechSvc: speechSvc,
		dumps:     opts.Dumps,
		metrics:   opts.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log:        logger.Component("ws"),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleEcho)
	r.Get("/ws/audio", h.handleAudio)
}

// handleEcho 原样回显文本消息
func (h *WebSocketHandler) handleEcho(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("echo upgrade failed")
		return
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("echo client disconnected")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("Echo: "+string(data))); err != nil {
			return
		}
	}
}

// audioConn is the state of one /ws/audio connection. Only the writer
// goroutine touches the socket for writes.
type audioConn struct {
	id        string
	sessionID string
	converse  bool

	ws         *websocket.Conn
	outbound   chan speech.Frame
	writerEnd  chan struct{}
	pingPeriod time.Duration
	log        zerolog.Logger
}

// send queues a frame for the writer. Frames are dropped once the writer has
// exited.
func (c *audioConn) send(frame speech.Frame) {
	select {
	case c.outbound <- frame:
	case <-c.writerEnd:
	}
}

func (c *audioConn) sendError(stage string, err error) {
	c.send(speech.Frame{Type: speech.FrameError, Message: err.Error(), Stage: stage})
}

// writeLoop is the only writer of data and ping frames.
func (c *audioConn) writeLoop() {
	defer close(c.writerEnd)

	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.log.Debug().Err(err).Str("frame", frame.Type).Msg("client write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// handleAudio 接收浏览器 PCM 音频，转发流式识别，并在会话模式下驱动对话轮
func (h *WebSocketHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	c := &audioConn{
		id:         ulid.Make().String(),
		sessionID:  query.Get("session_id"),
		outbound:   make(chan speech.Frame, outboundBuffer),
		writerEnd:  make(chan struct{}),
		pingPeriod: h.pingPeriod,
	}
	c.converse = c.sessionID != "" && query.Get("mode") != "transcribe"
	c.log = h.log.With().Str("conn_id", c.id).Str("session_id", c.sessionID).Logger()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c.ws = ws
	h.metrics.ConnectionOpened()
	c.log.Info().Bool("converse", c.converse).Msg("audio connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go c.writeLoop()
	go func() {
		// a dead client write path ends in-flight work
		select {
		case <-c.writerEnd:
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		transcription speechsvc.Transcription
		dump          *os.File
		relayDone     = make(chan struct{})
		workerDone    = make(chan struct{})
		turns         = make(chan string, turnQueue)
		teardownOnce  sync.Once
		// finished is set when the client ends the recording with EOF
		finished      bool
	)

	teardown := func() {
		teardownOnce.Do(func() {
			if transcription != nil {
				closeCtx, closeCancel := context.WithTimeout(context.Background(), speechsvc.CloseTimeout)
				if err := transcription.Close(closeCtx); err != nil {
					c.log.Warn().Err(err).Msg("transcription close failed")
				}
				closeCancel()
				<-relayDone
			}
			if finished {
				// the last utterance arrives in reply to Terminate, let it play out
				close(turns)
				<-workerDone
				cancel()
			} else {
				cancel()
				close(turns)
				<-workerDone
			}

			close(c.outbound)
			<-c.writerEnd
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = ws.Close()

			if dump != nil {
				if err := dump.Close(); err != nil {
					c.log.Warn().Err(err).Msg("close audio dump failed")
				}
			}
			h.metrics.ConnectionClosed()
			c.log.Info().Msg("audio connection closed")
		})
	}
	defer teardown()

	go func() {
		defer close(workerDone)
		h.turnWorker(ctx, c, turns)
	}()

	transcription, err = h.speechSvc.OpenTranscription(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("open transcription failed")
		c.sendError(apperr.StageTranscription, err)
		return
	}
	go func() {
		defer close(relayDone)
		h.relayEvents(ctx, c, transcription.Events(), turns)
	}()

	if h.dumps != nil {
		if dump, err = h.dumps.Create("streamed", ".pcm"); err != nil {
			c.log.Warn().Err(err).Msg("audio dump unavailable")
			dump = nil
		}
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err == nil {
			_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("client disconnected")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if dump != nil {
				if _, err := dump.Write(data); err != nil {
					c.log.Warn().Err(err).Msg("audio dump write failed")
					_ = dump.Close()
					dump = nil
				}
			}
			if err := transcription.Send(data); err != nil {
				c.sendError(apperr.StageTranscription, err)
				return
			}
		case websocket.TextMessage:
			if string(data) == eofMessage {
				c.log.Info().Msg("recording finished")
				finished = true
				return
			}
		}
	}
}

// relayEvents 把识别事件转换成下发帧，并把完整的用户话语交给对话轮
func (h *WebSocketHandler) relayEvents(ctx context.Context, c *audioConn, events <-chan speech.TranscriptEvent, turns chan<- string) {
	for event := range events {
		switch event.Type {
		case speech.EventSession:
			c.send(speech.Frame{
				Type:      speech.FrameSession,
				Message:   "Session started: " + event.SessionID,
				SessionID: event.SessionID,
			})
		case speech.EventTurn:
			if event.IsFinal {
				c.send(speech.Frame{Type: speech.FrameEndOfTurn})
			}
			if event.Formatted {
				c.send(speech.Frame{Type: speech.FrameTranscript, Text: event.Text})
			}
			if c.converse && event.FinalTurn() {
				select {
				case turns <- event.Text:
				case <-ctx.Done():
				}
			}
		case speech.EventTermination:
			seconds := event.AudioDurationSeconds
			c.send(speech.Frame{
				Type:                 speech.FrameTermination,
				Message:              fmt.Sprintf("Session ended: %gs processed", seconds),
				AudioDurationSeconds: &seconds,
			})
		case speech.EventError:
			c.send(speech.Frame{Type: speech.FrameError, Message: event.Error, Stage: apperr.StageTranscription})
		}
	}
}

// turnWorker 串行执行对话轮，直到 turns 关闭
func (h *WebSocketHandler) turnWorker(ctx context.Context, c *audioConn, turns <-chan string) {
	for query := range turns {
		if ctx.Err() != nil {
			continue
		}

		result, err := h.speechSvc.RunTurn(ctx, speechsvc.TurnRequest{
			SessionID: c.sessionID,
			Query:     query,
			OnSegment: func(seg sentence.Segment) {
				c.send(speech.Frame{Type: speech.FrameLLMResponse, Text: seg.Text})
			},
			OnAudio: func(index int, chunk []byte) {
				i := index
				c.send(speech.Frame{
					Type:  speech.FrameAudio,
					Data:  base64.StdEncoding.EncodeToString(chunk),
					Index: &i,
				})
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Str("stage", apperr.Stage(err)).Msg("turn failed")
			c.sendError(apperr.Stage(err), err)
			continue
		}

		chunks := len(result.Audio)
		c.send(speech.Frame{Type: speech.FrameAudioEnd, Chunks: &chunks})
	}
}
