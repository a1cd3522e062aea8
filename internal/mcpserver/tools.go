package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
)

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolCall implements the tool call pipeline: validate arguments,
// build an Intent, run it through CommandRouter.Execute, and format the
// result.
func (s *Server) handleToolCall(ctx context.Context, req Request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, ErrCodeInvalidParams, "invalid params", err.Error())
		return
	}

	intent, buildErr := s.buildToolIntent(ctx, params.Name, params.Arguments)
	if buildErr != nil {
		_, code, data := errorResult(buildErr)
		s.writeError(req.ID, code, buildErr.Error(), data)
		return
	}

	res := s.router.Execute(ctx, intent, s.principal)
	if res.Err != nil {
		result, _, _ := errorResult(res.Err)
		s.writeResult(req.ID, result)
		return
	}
	s.writeResult(req.ID, textResult(res.Message))
}

// buildToolIntent validates arguments per tool (IDs, enums, ranges) and
// maps them onto domain.Intent.
func (s *Server) buildToolIntent(ctx context.Context, tool string, raw json.RawMessage) (domain.Intent, error) {
	switch tool {
	case "connect_drone":
		var args struct {
			DroneType string `json:"drone_type"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return domain.Intent{}, invalidArgs(err)
		}
		if args.DroneType != "real" && args.DroneType != "simulation" && args.DroneType != "auto" {
			return domain.Intent{}, domain.NewValidationError(domain.CodeInvalidParameter, "drone_type must be real, simulation, or auto", args.DroneType)
		}
		return domain.Intent{Action: domain.ActionConnect, Source: domain.SourceMCP}, nil

	case "takeoff_drone":
		id, err := requireDroneID(raw)
		if err != nil {
			return domain.Intent{}, err
		}
		return domain.Intent{Action: domain.ActionTakeoff, TargetDrone: id, Source: domain.SourceMCP}, nil

	case "land_drone":
		id, err := requireDroneID(raw)
		if err != nil {
			return domain.Intent{}, err
		}
		return domain.Intent{Action: domain.ActionLand, TargetDrone: id, Source: domain.SourceMCP}, nil

	case "move_drone":
		var args struct {
			DroneID   string  `json:"drone_id"`
			Direction string  `json:"direction"`
			Distance  float64 `json:"distance"`
			Speed     float64 `json:"speed"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return domain.Intent{}, invalidArgs(err)
		}
		if err := validDroneID(args.DroneID); err != nil {
			return domain.Intent{}, err
		}
		if args.Distance < 1 || args.Distance > 500 {
			return domain.Intent{}, domain.NewValidationError(domain.CodeOutOfRange, "distance must be in [1,500]", fmt.Sprintf("%v", args.Distance))
		}
		if args.Speed != 0 && (args.Speed < 10 || args.Speed > 100) {
			return domain.Intent{}, domain.NewValidationError(domain.CodeOutOfRange, "speed must be in [10,100]", fmt.Sprintf("%v", args.Speed))
		}
		dirCode, ok := moveDirectionCode(args.Direction)
		if !ok {
			return domain.Intent{}, domain.NewValidationError(domain.CodeInvalidParameter, "unknown direction", args.Direction)
		}
		return domain.Intent{
			Action:      domain.ActionMove,
			TargetDrone: domain.DroneID(args.DroneID),
			Parameters:  map[string]float64{"direction": float64(dirCode), "distance": args.Distance, "speed": args.Speed},
			Source:      domain.SourceMCP,
		}, nil

	case "rotate_drone":
		var args struct {
			DroneID   string  `json:"drone_id"`
			Direction string  `json:"direction"`
			Angle     float64 `json:"angle"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return domain.Intent{}, invalidArgs(err)
		}
		if err := validDroneID(args.DroneID); err != nil {
			return domain.Intent{}, err
		}
		if args.Angle < 1 || args.Angle > 360 {
			return domain.Intent{}, domain.NewValidationError(domain.CodeOutOfRange, "angle must be in [1,360]", fmt.Sprintf("%v", args.Angle))
		}
		var dirCode float64
		switch args.Direction {
		case string(capability.DirClockwise):
			dirCode = 0
		case string(capability.DirCounterclockwise):
			dirCode = 1
		default:
			return domain.Intent{}, domain.NewValidationError(domain.CodeInvalidParameter, "direction must be clockwise or counterclockwise", args.Direction)
		}
		return domain.Intent{
			Action:      domain.ActionRotate,
			TargetDrone: domain.DroneID(args.DroneID),
			Parameters:  map[string]float64{"direction": dirCode, "angle": args.Angle},
			Source:      domain.SourceMCP,
		}, nil

	case "take_photo":
		id, err := requireDroneID(raw)
		if err != nil {
			return domain.Intent{}, err
		}
		return domain.Intent{Action: domain.ActionPhoto, TargetDrone: id, Source: domain.SourceMCP}, nil

	case "execute_natural_language_command":
		var args struct {
			Command string `json:"command"`
			DroneID string `json:"drone_id"`
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return domain.Intent{}, invalidArgs(err)
		}
		intent, err := s.parser.Parse(ctx, args.Command, s.session)
		if err != nil {
			return domain.Intent{}, err
		}
		if args.DroneID != "" {
			intent.TargetDrone = domain.DroneID(args.DroneID)
		}
		return intent, nil

	case "emergency_stop":
		id, err := requireDroneID(raw)
		if err != nil {
			return domain.Intent{}, err
		}
		return domain.Intent{Action: domain.ActionEmergency, TargetDrone: id, Source: domain.SourceMCP}, nil

	default:
		return domain.Intent{}, domain.NewValidationError(domain.CodeInvalidParameter, "unknown tool", tool)
	}
}

func invalidArgs(err error) error {
	return domain.NewValidationError(domain.CodeSchemaMismatch, "arguments did not match the tool's schema", err.Error())
}

func requireDroneID(raw json.RawMessage) (domain.DroneID, error) {
	var args struct {
		DroneID string `json:"drone_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", invalidArgs(err)
	}
	if err := validDroneID(args.DroneID); err != nil {
		return "", err
	}
	return domain.DroneID(args.DroneID), nil
}

func validDroneID(id string) error {
	if !domain.DroneID(id).Valid() {
		return domain.NewValidationError(domain.CodeMalformedID, "drone_id does not match the required pattern", id)
	}
	return nil
}

func moveDirectionCode(direction string) (int, bool) {
	switch capability.Direction(direction) {
	case capability.DirForward:
		return 0, true
	case capability.DirBack:
		return 1, true
	case capability.DirLeft:
		return 2, true
	case capability.DirRight:
		return 3, true
	case capability.DirUp:
		return 4, true
	case capability.DirDown:
		return 5, true
	}
	return 0, false
}
