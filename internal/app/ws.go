package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"codesync/api/internal/room"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 1 << 20
	mutationTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is a client to server socket message.
type inboundFrame struct {
	Event      string          `json:"event"`
	ProjectID  string          `json:"projectId"`
	NewCode    *string         `json:"newCode"`
	CursorData json.RawMessage `json:"cursorData"`
}

func (s *HTTPServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	client, err := s.service.Connect(session)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade for %s: %v", session.Username, err)
		s.service.Disconnect(client)
		return
	}
	log.Printf("ws: session %s connected as %s", client.ID, session.Username)

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(ws, client)
	}()

	s.readPump(ws, client)

	s.service.Disconnect(client)
	<-done
	log.Printf("ws: session %s disconnected", client.ID)
}

// writePump is the only goroutine writing to ws. It exits when the client's
// queue is closed or a write fails.
func writePump(ws *websocket.Conn, client *room.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Messages():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteJSON(msg); err != nil {
				log.Printf("ws: write to %s: %v", client.ID, err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) readPump(ws *websocket.Conn, client *room.Client) {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// only transport errors end the session; a bad frame gets an error reply
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read from %s: %v", client.ID, err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sendError(client, "", invalidInput("frame is not valid JSON"))
			continue
		}
		if err := s.dispatch(client, frame); err != nil {
			sendError(client, frame.ProjectID, err)
		}
	}
}

func (s *HTTPServer) dispatch(client *room.Client, frame inboundFrame) error {
	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()

	switch frame.Event {
	case "joinProject":
		return s.service.JoinProject(ctx, client, frame.ProjectID)
	case "leaveProject":
		s.service.LeaveProject(client, frame.ProjectID)
		return nil
	case EventCodeUpdate:
		if frame.NewCode == nil {
			return invalidInput("newCode is required")
		}
		return s.service.LiveEdit(ctx, client, frame.ProjectID, *frame.NewCode)
	case EventCursorUpdate:
		return s.service.CursorUpdate(client, frame.ProjectID, frame.CursorData)
	default:
		return invalidInput("unknown event " + frame.Event)
	}
}

// sendError reports a failure to the offending session only.
func sendError(client *room.Client, projectID string, err error) {
	status, code, message, _ := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("ws: session %s: %v", client.ID, err)
	}
	client.Send(room.Message{
		Event:     EventError,
		ProjectID: projectID,
		Payload:   map[string]any{"code": code, "error": message},
	})
}
