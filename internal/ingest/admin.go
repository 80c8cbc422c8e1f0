package ingest

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes tap as a live Server-Sent-Events packet tail,
// grounded on the teacher's serialmux.SerialMux.AttachAdminRoutes "tail"
// handler (Subscribe/Unsubscribe over an SSE response), rebuilt against
// this pipeline's decoded-sample Tap instead of raw serial lines.
func AttachAdminRoutes(mux *http.ServeMux, tap *Tap) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("ingest-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		id, c := tap.Subscribe()
		defer tap.Unsubscribe(id)

		fmt.Fprint(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", line)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
