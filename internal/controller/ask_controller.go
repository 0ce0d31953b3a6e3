package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"knowledge-qa-be/internal/dto"
	"knowledge-qa-be/internal/pkg/logger"
	"knowledge-qa-be/internal/pkg/serverutils"
	"knowledge-qa-be/internal/service"
	"knowledge-qa-be/pkg/relay"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

type IAskController interface {
	RegisterRoutes(r fiber.Router)
	AskStream(ctx *fiber.Ctx) error
	AskWs(ctx *fiber.Ctx) error
}

type askController struct {
	askService service.IAskService
	logger     logger.ILogger
}

func NewAskController(askService service.IAskService, log logger.ILogger) IAskController {
	return &askController{
		askService: askService,
		logger:     log,
	}
}

func (c *askController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/qa/v1/ask")
	h.Use(serverutils.JwtMiddleware)
	h.Post("/stream", c.AskStream)
	h.Get("/ws", c.AskWs)
}

// AskStream runs one question over SSE. The response body stays open until
// the run reaches its terminal envelope; if the browser drops mid-stream
// the run keeps going and persists in the background.
func (c *askController) AskStream(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	sink := newSSESink()

	sess, err := c.askService.StartStream(ctx.Context(), userId, &req, sink, relay.PolicyContinue)
	if err != nil {
		if errors.Is(err, relay.ErrConversationBusy) {
			return serverutils.NewAppError(fiber.StatusConflict, "conversation already has an active stream")
		}
		return err
	}

	// All forwards complete before Done closes, so closing the frame
	// channel here cannot race a Send.
	go func() {
		<-sess.Done()
		close(sink.frames)
	}()

	ctx.Set("Content-Type", "text/event-stream")
	ctx.Set("Cache-Control", "no-cache")
	ctx.Set("Connection", "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		gone := false
		for frame := range sink.frames {
			if gone {
				continue // drain so the forwarder never blocks
			}
			if _, err := w.Write(frame); err == nil {
				if err := w.Flush(); err == nil {
					continue
				}
			}
			gone = true
			sess.ClientGone()
		}
	}))

	return nil
}

// AskWs runs one question over a dedicated websocket. Unlike the SSE
// endpoint, a dropped connection aborts the upstream subscription; whatever
// accumulated so far is still persisted.
func (c *askController) AskWs(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		c.runWsSession(conn, userId)
	})(ctx)
}

func (c *askController) runWsSession(conn *websocket.Conn, userId uuid.UUID) {
	defer conn.Close()

	// The first client frame carries the ask request.
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}

	var req dto.AskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeWsError(conn, "invalid request payload")
		return
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		writeWsError(conn, err.Error())
		return
	}

	sink := &wsSink{conn: conn}

	sess, err := c.askService.StartStream(context.Background(), userId, &req, sink, relay.PolicyAbort)
	if err != nil {
		if errors.Is(err, relay.ErrConversationBusy) {
			writeWsError(conn, "conversation already has an active stream")
		} else {
			c.logger.Error("AskController", "Failed to start ws stream", map[string]interface{}{"error": err.Error()})
			writeWsError(conn, "failed to start stream")
		}
		return
	}

	// Read loop exists only to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sess.ClientGone()
				return
			}
		}
	}()

	<-sess.Done()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeWsError(conn *websocket.Conn, message string) {
	data, err := relay.MarshalEnvelope(relay.ErrorEnvelope{Message: message})
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, data)
}

// sseSink bridges the session's forwarder to the fasthttp stream writer
// goroutine through a frame channel.
type sseSink struct {
	frames chan []byte
}

func newSSESink() *sseSink {
	return &sseSink{frames: make(chan []byte, 64)}
}

func (s *sseSink) Send(env relay.Envelope) error {
	data, err := relay.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)

	s.frames <- frame
	return nil
}

// wsSink writes envelopes straight to the websocket connection. The
// forwarder serializes calls, but the mutex also covers the error frames
// written during setup.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(env relay.Envelope) error {
	data, err := relay.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
