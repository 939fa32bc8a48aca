package event

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Schema is the JSON schema of one encoded event.
//
//go:embed event.schema.json
var Schema []byte

// SchemaURL is the identifier the schema is published under.
const SchemaURL = "https://telemetryd.local/schema/event-v1.schema.json"

// Envelope is the wire form of an event: the channel name and its payload.
type Envelope struct {
	Event   Kind            `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type keyPayload struct {
	Code string `json:"code"`
}

type mousePayload struct {
	Coords [2]int32 `json:"coords"`
}

type brightnessPayload struct {
	Display string  `json:"display"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"stddev"`
}

// Payload returns the JSON-ready payload value of e.
func Payload(e Event) (any, error) {
	switch v := e.(type) {
	case KeyDown:
		return keyPayload{Code: v.Code.String()}, nil
	case KeyUp:
		return keyPayload{Code: v.Code.String()}, nil
	case MouseMove:
		return mousePayload{Coords: [2]int32{v.Coords.X, v.Coords.Y}}, nil
	case MouseIdle:
		return mousePayload{Coords: [2]int32{v.Coords.X, v.Coords.Y}}, nil
	case ScreenBrightness:
		return brightnessPayload{
			Display: v.Display,
			Mean:    v.Sample.Mean,
			Median:  v.Sample.Median,
			StdDev:  v.Sample.StdDev,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported event type %T", e)
	}
}

// Encode marshals e into its envelope.
func Encode(e Event) ([]byte, error) {
	payload, err := Payload(e)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(Envelope{Event: e.Kind(), Payload: raw})
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Event {
	case KindKeyDown, KindKeyUp:
		var p keyPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		code, err := ParseKeyCode(p.Code)
		if err != nil {
			return nil, err
		}
		if env.Event == KindKeyDown {
			return KeyDown{Code: code}, nil
		}
		return KeyUp{Code: code}, nil
	case KindMouseMove, KindMouseIdle:
		var p mousePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		coords := MouseState{X: p.Coords[0], Y: p.Coords[1]}
		if env.Event == KindMouseMove {
			return MouseMove{Coords: coords}, nil
		}
		return MouseIdle{Coords: coords}, nil
	case KindScreenBrightness:
		var p brightnessPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
		return ScreenBrightness{
			Display: p.Display,
			Sample:  BrightnessSample{Mean: p.Mean, Median: p.Median, StdDev: p.StdDev},
		}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}
