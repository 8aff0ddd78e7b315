package api

import (
	"net/http"
	"strings"

	"biddesk/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Any origin may open the socket; access is gated by the token, not the
// page origin, and events flow one way (server to client).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		d.Log.Error("WebSocket hub not initialized")
		http.Error(w, "WebSocket hub not initialized", http.StatusInternalServerError)
		return
	}

	userID := d.extractUserID(r)
	if userID == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	d.Log.Info("WebSocket connected", zap.String("userID", userID))

	wsConn := ws.NewConn(conn, d.Hub, userID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}

// extractUserID resolves the caller for a socket. Browsers cannot set
// an Authorization header on WebSocket upgrades, so the token is also
// accepted as a query parameter.
func (d Dependencies) extractUserID(r *http.Request) string {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		tokenString = r.Header.Get("Authorization")
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	}

	if tokenString != "" {
		if ident, err := d.JWT.ParseToken(tokenString); err == nil {
			return ident.UserID
		}
		return ""
	}

	// Development shortcut, matching the HTTP middleware.
	return r.Header.Get("X-User-ID")
}
