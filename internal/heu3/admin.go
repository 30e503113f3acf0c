package heu3

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux
// served at /debug/. These routes are for bench use over localhost or a
// tailnet; they are not an operator surface.
func (p *Poller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to send a raw mnemonic to the unit and return the
	// cleaned response.
	debug.Handle("send-command", "send a raw command to the heat exchange unit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		resp, err := p.driver.SendQuery(command)
		if err != nil {
			http.Error(w, fmt.Sprintf("Command failed: %v", err), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("Command %q -> %q\n", command, resp))
	}))

	// API endpoint to issue Server-Sent Events (SSE) carrying telemetry
	// snapshots as JSON.
	debug.HandleSilent("telemetry", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		id, snapshots := p.Subscribe()
		defer p.Unsubscribe(id)

		// Initial ping to establish the stream.
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				payload, err := json.Marshal(snap)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
}
