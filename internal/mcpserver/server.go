package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/internal/nlparser"
	"github.com/dronefleet/fleetctl/internal/router"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Router is the subset of CommandRouter the adapter needs.
type Router interface {
	Execute(ctx context.Context, intent domain.Intent, principal router.Principal) router.Result
}

// NLParser parses free text into an Intent for execute_natural_language_command.
type NLParser interface {
	Parse(ctx context.Context, command string, session *nlparser.SessionContext) (domain.Intent, error)
}

// StatusSource supplies the data behind the drone:// and system:// resources.
type StatusSource interface {
	AvailableDrones() []domain.DetectedDrone
	DroneStatus(id domain.DroneID) (domain.DroneRecord, bool)
	SystemStatus() map[string]interface{}
}

// Server is the MCP stdio adapter.
type Server struct {
	router Router
	parser NLParser
	status StatusSource
	logger *logger.Logger

	in  *bufio.Scanner
	out io.Writer
	mu  sync.Mutex // serializes writes to out

	principal router.Principal
	session   *nlparser.SessionContext
}

// New constructs a Server reading JSON-RPC requests (one per line) from in
// and writing responses to out.
func New(in io.Reader, out io.Writer, rtr Router, parser NLParser, status StatusSource, log *logger.Logger) *Server {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Server{
		router:    rtr,
		parser:    parser,
		status:    status,
		logger:    log,
		in:        scanner,
		out:       out,
		principal: router.Principal{ID: "mcp-stdio", Roles: []string{"operator"}},
		session:   nlparser.NewSessionContext(),
	}
}

// Serve reads requests until ctx is cancelled or stdin closes. ctx is
// checked after each line is read; a read blocked on stdin is not
// interrupted by cancellation.
func (s *Server) Serve(ctx context.Context) error {
	for s.in.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		s.handleLine(ctx, line)
	}
	return s.in.Err()
}

func (s *Server) handleLine(ctx context.Context, line string) {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.writeError(nil, ErrCodeParse, "parse error", err.Error())
		return
	}

	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{},
				"resources": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{"name": "fleetctl", "version": "1.0.0"},
		})
	case "tools/list":
		s.writeResult(req.ID, map[string]interface{}{"tools": toolCatalog})
	case "resources/list":
		s.writeResult(req.ID, map[string]interface{}{"resources": resourceCatalog})
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/read":
		s.handleResourceRead(req)
	default:
		s.writeError(req.ID, ErrCodeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) writeResult(id json.RawMessage, result interface{}) {
	s.writeResponse(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string, data interface{}) {
	s.writeResponse(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}})
}

func (s *Server) writeResponse(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.out)
	if err := enc.Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to write MCP response")
	}
}

// errToRPC maps a structured *domain.Error onto a JSON-RPC error code.
func errToRPC(err error) (int, interface{}) {
	fe, ok := domain.AsFleetError(err)
	if !ok {
		return ErrCodeInternal, err.Error()
	}
	data := map[string]interface{}{
		"kind":            fe.Kind,
		"code":            fe.Code,
		"userMessage":     fe.UserMessage,
		"recoveryActions": fe.RecoveryActions,
	}
	switch fe.Kind {
	case domain.KindValidation:
		return ErrCodeValidation, data
	case domain.KindState:
		return ErrCodeState, data
	case domain.KindSafety:
		return ErrCodeSafety, data
	case domain.KindTransport:
		return ErrCodeTransport, data
	default:
		return ErrCodeInternal, data
	}
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

func errorResult(err error) (ToolCallResult, int, interface{}) {
	code, data := errToRPC(err)
	return ToolCallResult{Content: []ToolContent{{Type: "text", Text: err.Error()}}, IsError: true}, code, data
}
