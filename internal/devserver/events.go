package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const maxEventsBody = 1 << 20

type eventsResponse struct {
	Accepted int `json:"accepted"`
}

// handleEvents accepts a JSON array of analytics events and counts them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventsBody)

	var events []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "body must be a JSON array of events")
		return
	}
	s.eventsReceived.Add(int64(len(events)))

	hlog.FromRequest(r).Debug().
		Int("events", len(events)).
		Str("payload_id", r.Header.Get("X-Flagship-Payload-ID")).
		Msg("events received")

	writeJSON(w, http.StatusAccepted, eventsResponse{Accepted: len(events)})
}
