package push

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local companion process; the display layer is the only caller
	},
}

// WSHandler upgrades the connection and registers it with the hub. welcome,
// when non-nil, provides the first payload sent to a fresh client, so the
// display layer can render the current feed before any event arrives.
func WSHandler(hub *Hub, welcome func() any, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		hub.Add(ws)
		log.Infow("client connected")

		if welcome != nil {
			if b, err := json.Marshal(welcome()); err == nil {
				_ = ws.WriteMessage(websocket.TextMessage, b)
			}
		}

		// Keep the connection alive; incoming messages are ignored.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.Remove(ws)
		log.Infow("client disconnected")
	}
}
