package sensorconfig

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes the §6.2 abstract configuration commands as
// JSON endpoints under the debug mux, grounded on the same tsweb.Debugger
// pattern internal/storage/fileindex uses for its own admin routes. Each
// command runs synchronously against c. ConfigProtocol's mutex serializes
// single register writes and reads only: two multi-step commands issued
// at once can interleave their steps, and raw-hex writes to the port
// without taking the mutex.
func AttachAdminRoutes(mux *http.ServeMux, c *ConfigProtocol) {
	debug := tsweb.Debugger(mux)

	debug.Handle("sensor-config", "Read RSW/RRATE/BAUD registers (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := ReadConfig(c)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, result)
	}))

	debug.Handle("sensor-config/set-rate", "Set output rate in Hz (POST {\"hz\": float})", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Hz float64 `json:"hz"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := SetRate(c, req.Hz); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))

	debug.Handle("sensor-config/set-output", "Set output content tags (POST {\"tags\": [string]})", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tags []string `json:"tags"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := SetOutput(c, req.Tags); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))

	debug.Handle("sensor-config/set-baudrate", "Set baudrate (POST {\"baud\": int}); caller must reopen the port afterward", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Baud int `json:"baud"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := SetBaudrate(c, req.Baud); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok", "note": "port must be reopened at the new baudrate"})
	}))

	debug.Handle("sensor-config/factory-reset", "Factory-reset the sensor (POST, no body); reverts baudrate to 9600", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := FactoryReset(c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok", "note": "baudrate reverted to 9600, reopen the port"})
	}))

	debug.Handle("sensor-config/unlock", "Unlock the register space for writes (POST, no body)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Unlock(c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))

	debug.Handle("sensor-config/save", "Persist pending configuration writes (POST, no body)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Save(c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))

	debug.Handle("sensor-config/restart", "Reboot the sensor over the existing serial link (POST, no body)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Restart(c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))

	debug.Handle("sensor-config/raw-hex", "Pass exactly 5 raw bytes through as a write command (POST {\"bytes\": [5]int})", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bytes []int `json:"bytes"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Bytes) != 5 {
			http.Error(w, "raw_hex requires exactly 5 bytes", http.StatusBadRequest)
			return
		}
		var five [5]byte
		for i, b := range req.Bytes {
			five[i] = byte(b)
		}
		if err := RawHex(c.port, five); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
