package mcpserver

import (
	"encoding/json"
	"strings"

	"github.com/dronefleet/fleetctl/internal/domain"
)

const (
	resourceAvailable    = "drone://available"
	resourceStatusPrefix = "drone://status/"
	resourceSystem       = "system://status"
)

type resourceReadParams struct {
	URI string `json:"uri"`
}

// handleResourceRead parses the requested URI, dispatches to the registry
// or status source, and returns {contents:[{uri, mimeType, text}]}.
func (s *Server) handleResourceRead(req Request) {
	var params resourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, ErrCodeInvalidParams, "invalid params", err.Error())
		return
	}

	var payload interface{}
	switch {
	case params.URI == resourceAvailable:
		payload = s.status.AvailableDrones()

	case strings.HasPrefix(params.URI, resourceStatusPrefix):
		id := domain.DroneID(strings.TrimPrefix(params.URI, resourceStatusPrefix))
		record, ok := s.status.DroneStatus(id)
		if !ok {
			s.writeError(req.ID, ErrCodeValidation, "unknown drone", string(id))
			return
		}
		payload = record

	case params.URI == resourceSystem:
		payload = s.status.SystemStatus()

	default:
		s.writeError(req.ID, ErrCodeValidation, "unknown resource uri", params.URI)
		return
	}

	text, err := json.Marshal(payload)
	if err != nil {
		s.writeError(req.ID, ErrCodeInternal, "failed to encode resource", err.Error())
		return
	}

	s.writeResult(req.ID, ResourceReadResult{
		Contents: []ResourceContent{{URI: params.URI, MimeType: "application/json", Text: string(text)}},
	})
}
