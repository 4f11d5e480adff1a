package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListTickets returns the canonical ticket collection, newest first
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.repo.All())
}

// handleRecentTickets returns the recent-N projection
func (s *Server) handleRecentTickets(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			corsError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	writeJSON(w, s.repo.Recent(limit))
}

// handleTicketCategories returns tickets grouped by merchant
func (s *Server) handleTicketCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.repo.ByMerchant())
}

// handleSearchTickets filters tickets by the q query parameter
func (s *Server) handleSearchTickets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.repo.Search(r.URL.Query().Get("q")))
}

// handleRefreshTickets reconciles the canonical collection with the remote
// store. A remote failure is reported but leaves local data untouched.
func (s *Server) handleRefreshTickets(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Refresh(r.Context()); err != nil {
		setCORSHeaders(w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Remote store unavailable, showing local tickets",
		})
		return
	}
	writeJSON(w, s.repo.All())
}

// handleWatchTickets streams canonical snapshots as server-sent events. The
// current snapshot is sent immediately, then one event per applied write,
// until the client disconnects.
func (s *Server) handleWatchTickets(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		corsError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for tickets := range s.repo.Watch(r.Context()) {
		data, err := json.Marshal(tickets)
		if err != nil {
			slog.Error("Error encoding ticket snapshot", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// handleTicketImage serves the stored receipt image for a ticket
func (s *Server) handleTicketImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.TicketImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Ticket not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleDeleteTicket removes a ticket from all tiers
func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	s.service.DeleteTicket(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadReceipt accepts a receipt image, parses it and returns the new
// ticket
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	// 50MB cap to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSONError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSONError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, "Error reading file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	t, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		if errors.Is(err, ErrScanInProgress) {
			writeJSONError(w, "A receipt is already being processed", http.StatusConflict)
			return
		}
		slog.Error("Error processing receipt", "error", err, "filename", header.Filename)
		writeJSONError(w, "Could not read the receipt. Try a clearer photo.", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(t); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
