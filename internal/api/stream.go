package api

import (
	"context"
	"net/http"
	"time"

	"notification-hub/internal/clientsync"
	"notification-hub/internal/common/errors"
	"notification-hub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// requests reach us through the gateway, which enforces origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is sent to the client.
type streamMessage struct {
	Type        string                `json:"type"` // state or error
	Items       []models.Notification `json:"items,omitempty"`
	UnreadCount int                   `json:"unreadCount"`
	Code        string                `json:"code,omitempty"`
	Message     string                `json:"message,omitempty"`
	Action      string                `json:"action,omitempty"`
	ID          string                `json:"id,omitempty"`
}

// streamCommand is received from the client.
type streamCommand struct {
	Action string `json:"action"` // markRead, markAllRead or delete
	ID     string `json:"id,omitempty"`
}

// handleStream upgrades to a websocket and pushes the caller's reconciled
// notification list and unread count after every change. Clients mutate
// through commands on the same socket so their view updates optimistically.
func (s *Server) handleStream(c *gin.Context) {
	userID := currentUser(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"userId": userID, "error": err})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	latest := make(chan clientsync.State, 1)
	session := clientsync.NewSession(userID, s.deps.Inbox, s.deps.Events, clientsync.SessionConfig{
		Limit:    s.config.PageLimit,
		BaseWait: s.config.ResyncBaseWait,
		MaxWait:  s.config.ResyncMaxWait,
		OnChange: func(st clientsync.State) {
			// only the newest state matters to the client
			select {
			case <-latest:
			default:
			}
			latest <- st
		},
	}, s.logger)

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	commands := make(chan streamCommand)
	go readCommands(ctx, conn, commands)

	s.logger.Info("stream opened", map[string]interface{}{"userId": userID})
	defer s.logger.Info("stream closed", map[string]interface{}{"userId": userID})

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case sessionErr := <-runErr:
			if ctx.Err() != nil {
				writeClose(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if sessionErr != nil {
				s.writeStreamError(conn, sessionErr, streamCommand{})
			}
			writeClose(conn, websocket.CloseTryAgainLater, "event stream unavailable")
			return
		case st := <-latest:
			err = writeJSON(conn, streamMessage{Type: "state", Items: st.Items, UnreadCount: st.Unread})
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if cmdErr := applyCommand(ctx, session, cmd); cmdErr != nil {
				err = s.writeStreamError(conn, cmdErr, cmd)
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func applyCommand(ctx context.Context, session *clientsync.Session, cmd streamCommand) error {
	switch cmd.Action {
	case "markRead":
		if cmd.ID == "" {
			return errors.NewValidationError("id", "id is required")
		}
		return session.MarkRead(ctx, cmd.ID)
	case "markAllRead":
		return session.MarkAllRead(ctx)
	case "delete":
		if cmd.ID == "" {
			return errors.NewValidationError("id", "id is required")
		}
		return session.Delete(ctx, cmd.ID)
	default:
		return errors.NewValidationError("action", "unknown action "+cmd.Action)
	}
}

// readCommands closes out when the client goes away or sends garbage.
func readCommands(ctx context.Context, conn *websocket.Conn, out chan<- streamCommand) {
	defer close(out)

	conn.SetReadLimit(maxCommandSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd streamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeStreamError(conn *websocket.Conn, err error, cmd streamCommand) error {
	stdErr := errors.Normalize(err)
	if !errors.IsValidation(err) {
		s.logger.Warn("stream command failed", map[string]interface{}{
			"action":    cmd.Action,
			"errorCode": string(stdErr.Code),
			"error":     err,
		})
	}
	return writeJSON(conn, streamMessage{
		Type:    "error",
		Code:    string(stdErr.Code),
		Message: stdErr.Message,
		Action:  cmd.Action,
		ID:      cmd.ID,
	})
}

func writeJSON(conn *websocket.Conn, msg streamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func writeClose(conn *websocket.Conn, code int, text string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
