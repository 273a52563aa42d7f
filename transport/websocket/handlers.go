package websocket

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const closeWait = time.Second

// handleRequests - lock-step request channel: one reply is written for every request read,
// and the next request is not read before that.
func (that *Server) handleRequests(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "handleRequests")

	// counted while http.Server still tracks the connection, i.e. before Shutdown returns
	that.conns.Add(1)
	defer that.conns.Done()

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	defer conn.Close()

	conn.SetReadLimit(maxRequestSize)

	stop := that.interruptReads(conn)
	defer stop()

	log.Debug("request connection established", "remote", conn.RemoteAddr().String())

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			that.logReadError(log, err)
			that.sayGoodbye(conn)
			return
		}

		reply, err := that.manager.Handle(req.Context(), string(payload))
		if err != nil {
			log.Error("failed to handle request", "error", err)
			that.sayGoodbye(conn)
			return
		}

		if err = that.write(conn, reply); err != nil {
			log.Error("failed to write reply", "error", err)
			return
		}
	}
}

// handleSubscribe - broadcast channel: every message published on the hub is written as one frame.
func (that *Server) handleSubscribe(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "handleSubscribe")

	// counted while http.Server still tracks the connection, i.e. before Shutdown returns
	that.conns.Add(1)
	defer that.conns.Done()

	// registered before the handshake completes, so a client that fetches right after
	// connecting cannot miss a change published in between
	sub, err := that.hub.Subscribe(req.Context())
	if err != nil {
		log.Error("failed to subscribe", "error", err)
		http.Error(writer, "broadcast unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Cancel()

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	defer conn.Close()

	log.Debug("subscriber connected", "remote", conn.RemoteAddr().String())

	// subscribers never send data; reading only processes control frames and detects a close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				that.sayGoodbye(conn)
				return
			}

			if err = that.write(conn, msg); err != nil {
				log.Warn("failed to deliver message", "error", err)
				return
			}
		case <-gone:
			log.Debug("subscriber disconnected")
			return
		case <-that.closing:
			that.sayGoodbye(conn)
			return
		}
	}
}

// interruptReads - unblocks a pending read once the server starts closing. A request being
// processed is not affected: its reply is written and the following read fails.
func (that *Server) interruptReads(conn *websocket.Conn) func() {
	done := make(chan struct{})

	go func() {
		select {
		case <-that.closing:
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	return func() { close(done) }
}

func (that *Server) write(conn *websocket.Conn, msg string) error {
	if that.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(that.opts.WriteTimeout))
	}

	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (that *Server) sayGoodbye(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
}

func (that *Server) logReadError(log *slog.Logger, err error) {
	var netErr net.Error

	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Debug("connection closed by client")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Debug("read interrupted by shutdown")
	default:
		log.Debug("connection read failed", "error", err)
	}
}
