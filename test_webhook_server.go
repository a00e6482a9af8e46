package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// DetectionEvent mirrors the JSON payload delivered by the notify client
type DetectionEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	StreamID   uint32    `json:"stream_id"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label"`
	Score      float32   `json:"score"`
	SampleRate int       `json:"sample_rate"`
	Timestamp  time.Time `json:"timestamp"`
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event DetectionEvent
	contentType := r.Header.Get("Content-Type")

	if len(contentType) >= 19 && contentType[:19] == "multipart/form-data" {
		// Wakeword events arrive as multipart with a WAV snapshot attached
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
			return
		}

		eventJSON := r.FormValue("event")
		if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse event field: %v", err), http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("snapshot")
		if err != nil {
			http.Error(w, fmt.Sprintf("Missing snapshot file: %v", err), http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read snapshot: %v", err), http.StatusBadRequest)
			return
		}

		snapshotPath := fmt.Sprintf("/tmp/%s", header.Filename)
		if err := os.WriteFile(snapshotPath, data, 0644); err != nil {
			log.Printf("Failed to save snapshot: %v", err)
		} else {
			log.Printf("Saved snapshot: %s (%d bytes)", snapshotPath, len(data))
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, fmt.Sprintf("Failed to parse event: %v", err), http.StatusBadRequest)
			return
		}
	}

	log.Printf("Received event: type=%s stream=%d session=%s label=%q score=%.3f",
		event.Type, event.StreamID, event.SessionID, event.Label, event.Score)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "received",
		"event_id": event.ID,
	})
}

func main() {
	http.HandleFunc("/events", eventsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	addr := ":9090"
	log.Printf("Test webhook server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
