package mcpserver

import "encoding/json"

func mustSchema(s string) json.RawMessage { return json.RawMessage(s) }

// toolCatalog is the static tools/list catalog.
var toolCatalog = []ToolDescriptor{
	{
		Name:        "connect_drone",
		Description: "Connect to a drone backend, real or simulated, by mode.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_type":{"type":"string","enum":["real","simulation","auto"]}},"required":["drone_type"]}`),
	},
	{
		Name:        "takeoff_drone",
		Description: "Command a connected drone to take off.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"}},"required":["drone_id"]}`),
	},
	{
		Name:        "land_drone",
		Description: "Command a flying drone to land.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"}},"required":["drone_id"]}`),
	},
	{
		Name:        "move_drone",
		Description: "Move a flying drone a relative distance in a direction.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"},"direction":{"type":"string","enum":["forward","back","left","right","up","down"]},"distance":{"type":"number","minimum":1,"maximum":500},"speed":{"type":"number","minimum":10,"maximum":100}},"required":["drone_id","direction","distance"]}`),
	},
	{
		Name:        "rotate_drone",
		Description: "Rotate a flying drone clockwise or counterclockwise.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"},"direction":{"type":"string","enum":["clockwise","counterclockwise"]},"angle":{"type":"number","minimum":1,"maximum":360}},"required":["drone_id","direction","angle"]}`),
	},
	{
		Name:        "take_photo",
		Description: "Capture a still frame from the drone's camera.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"},"filename":{"type":"string"}},"required":["drone_id"]}`),
	},
	{
		Name:        "execute_natural_language_command",
		Description: "Parse free-text and execute the resulting intent.",
		InputSchema: mustSchema(`{"type":"object","properties":{"command":{"type":"string"},"drone_id":{"type":"string"}},"required":["command"]}`),
	},
	{
		Name:        "emergency_stop",
		Description: "Immediately stop a drone's motors, bypassing queued operations.",
		InputSchema: mustSchema(`{"type":"object","properties":{"drone_id":{"type":"string"}},"required":["drone_id"]}`),
	},
}

// resourceCatalog is the static resources/list catalog.
var resourceCatalog = []ResourceDescriptor{
	{URI: "drone://available", Name: "Available drones", Description: "JSON array of known drones.", MimeType: "application/json"},
	{URI: "drone://status/{drone_id}", Name: "Drone status", Description: "Full DroneRecord snapshot for one drone.", MimeType: "application/json"},
	{URI: "system://status", Name: "System status", Description: "Aggregate fleet health.", MimeType: "application/json"},
}
