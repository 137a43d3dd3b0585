// Package preview serves the HTML document the agent is generating to a
// browser, live-updating as fragments stream in.
//
// The server exposes a shell page that renders the document inside an
// iframe and a websocket endpoint that pushes updates: fragments while the
// document streams, the complete document once the closing tag is seen, and
// a reset when a new turn starts. It is the delivery end of the HTML
// substream; it performs no parsing of its own.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"agtui/config"
)

var upgrader = websocket.Upgrader{
	// The preview is bound to localhost; any local page may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// update is one websocket push to connected preview pages.
type update struct {
	Type string `json:"type"` // "document", "fragment", "reset"
	Data string `json:"data,omitempty"`
}

// Server is the live preview HTTP server.
//
// Writes to a connection are serialized through a per-connection mutex:
// gorilla/websocket forbids concurrent writers, and the catch-up write on
// the HTTP handler goroutine can otherwise race a broadcast from the update
// loop.
type Server struct {
	mu       sync.Mutex
	document string
	conns    map[*websocket.Conn]*sync.Mutex
	httpSrv  *http.Server
}

// NewServer creates a preview server. Start must be called to serve.
func NewServer() *Server {
	return &Server{conns: make(map[*websocket.Conn]*sync.Mutex)}
}

// Start begins serving on addr (e.g. "127.0.0.1:8787"). Blocks; run it on
// its own goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.mu.Lock()
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	srv := s.httpSrv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("preview server: %w", err)
	}
	return nil
}

// Shutdown stops the server and closes all preview connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]*sync.Mutex)
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Reset clears the current document, e.g. when a new turn starts.
func (s *Server) Reset() {
	s.mu.Lock()
	s.document = ""
	s.mu.Unlock()
	s.broadcast(update{Type: "reset"})
}

// AppendFragment adds a cleaned fragment to the working document and pushes
// it to connected pages.
func (s *Server) AppendFragment(fragment string) {
	s.mu.Lock()
	s.document += fragment
	s.mu.Unlock()
	s.broadcast(update{Type: "fragment", Data: fragment})
}

// SetDocument replaces the working document with the complete one and
// pushes it to connected pages.
func (s *Server) SetDocument(doc string) {
	s.mu.Lock()
	s.document = doc
	s.mu.Unlock()
	s.broadcast(update{Type: "document", Data: doc})
}

// Document returns the current working document.
func (s *Server) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, shellPage)
}

// handleWebSocket registers a preview page and sends it the current
// document so late joiners catch up.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("preview: websocket upgrade failed: %v", err)
		}
		return
	}

	// Register with the write mutex already held: broadcasts that snapshot
	// this connection queue up behind the catch-up write instead of racing
	// it, and the page always sees the document before later fragments.
	writeMu := &sync.Mutex{}
	writeMu.Lock()
	s.mu.Lock()
	s.conns[conn] = writeMu
	doc := s.document
	s.mu.Unlock()

	if doc != "" {
		if err := conn.WriteJSON(update{Type: "document", Data: doc}); err != nil {
			writeMu.Unlock()
			s.drop(conn)
			return
		}
	}
	writeMu.Unlock()

	// Reader goroutine exists only to detect the page going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

// broadcast pushes one update to every connected page, dropping
// connections that fail.
func (s *Server) broadcast(u update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, writeMu := range s.conns {
		conns[conn] = writeMu
	}
	s.mu.Unlock()

	for conn, writeMu := range conns {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		writeMu.Unlock()
		if err != nil {
			s.drop(conn)
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// shellPage hosts the streamed document in an iframe and applies updates
// pushed over the websocket.
const shellPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>agtui preview</title>
<style>
  html, body { margin: 0; height: 100%; }
  iframe { border: 0; width: 100%; height: 100%; }
</style>
</head>
<body>
<iframe id="target"></iframe>
<script>
  var doc = "";
  var frame = document.getElementById("target");
  function render() { frame.srcdoc = doc; }
  function connect() {
    var ws = new WebSocket("ws://" + location.host + "/ws");
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "reset") { doc = ""; }
      else if (msg.type === "fragment") { doc += msg.data; }
      else { doc = msg.data; }
      render();
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
</script>
</body>
</html>
`
