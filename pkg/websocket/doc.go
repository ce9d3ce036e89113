// Package websocket provides an RFC 6455 WebSocket server implementation:
// frame encoding and resumable decoding, the HTTP upgrade handshake, and a
// Connection type that owns one upgraded stream.
//
// # Usage
//
//	u := websocket.NewUpgrader(websocket.WithReadTimeout(time.Minute))
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    conn, err := u.Upgrade(w, r)
//	    if err != nil {
//	        return
//	    }
//	    conn.OnMessage(func(c *websocket.Connection, text string) {
//	        _ = c.Send([]byte(text))
//	    })
//	    conn.Serve()
//	})
//
// # Limitations
//
// Fragmented messages are not supported. The decoder only interprets single,
// complete frames: a data frame with FIN clear and every continuation frame
// are discarded and counted in Stats.FragmentsDropped, never delivered as
// messages. Clients are expected to send each envelope as one frame.
// Extensions such as permessage-deflate are never negotiated.
package websocket
