package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openclaw/support-relay-go/internal/model"
)

var (
	ErrMalformed    = errors.New("malformed control message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidField = errors.New("invalid field")
)

type envelope struct {
	Type Type `json:"type"`
}

type registerWire struct {
	Type       Type             `json:"type"`
	ClientInfo model.ClientInfo `json:"clientInfo"`
}

type bareWire struct {
	Type Type `json:"type"`
}

type connectWire struct {
	Type Type     `json:"type"`
	Pin  *pinValue `json:"pin"`
}

type inputWire struct {
	Type   Type     `json:"type"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Button *int     `json:"button"`
	Delta  *float64 `json:"delta"`
	Key    *string  `json:"key"`
	Keys   []string `json:"keys"`
}

type screenInfoWire struct {
	Type   Type `json:"type"`
	Width  *int `json:"width"`
	Height *int `json:"height"`
}

type settingsWire struct {
	Type     Type           `json:"type"`
	Settings map[string]any `json:"settings"`
}

// pinValue accepts the pin as a JSON string or a bare number.
type pinValue string

func (p *pinValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = pinValue(s)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("pin: %w", ErrInvalidField)
	}
	*p = pinValue(fmt.Sprintf("%06d", n))
	return nil
}

// Parse decodes one text frame into its variant.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case env.Type == TypeRegister:
		var w registerWire
		if err := decodeStrict(data, &w); err != nil {
			return nil, err
		}
		if w.ClientInfo == nil {
			w.ClientInfo = model.ClientInfo{}
		}
		return Register{ClientInfo: w.ClientInfo}, nil

	case env.Type == TypeJoin:
		if err := decodeStrict(data, &bareWire{}); err != nil {
			return nil, err
		}
		return Join{}, nil

	case env.Type == TypeConnect:
		var w connectWire
		if err := decodeStrict(data, &w); err != nil {
			return nil, err
		}
		// An empty pin is well-formed; the hub answers it with INVALID_PIN.
		if w.Pin == nil {
			return nil, fmt.Errorf("%w: pin is required", ErrInvalidField)
		}
		return Connect{Pin: string(*w.Pin)}, nil

	case IsInputType(env.Type):
		return parseInput(env.Type, data)

	case env.Type == TypeScreenInfo:
		var w screenInfoWire
		if err := decodeStrict(data, &w); err != nil {
			return nil, err
		}
		if w.Width == nil || w.Height == nil || *w.Width <= 0 || *w.Height <= 0 {
			return nil, fmt.Errorf("%w: width and height must be positive", ErrInvalidField)
		}
		return ScreenInfo{Width: *w.Width, Height: *w.Height, Raw: bytes.Clone(data)}, nil

	case env.Type == TypeSettingsUpdate:
		var w settingsWire
		if err := decodeStrict(data, &w); err != nil {
			return nil, err
		}
		if w.Settings == nil {
			return nil, fmt.Errorf("%w: settings is required", ErrInvalidField)
		}
		return SettingsUpdate{Settings: w.Settings}, nil

	case env.Type == TypeDisconnect:
		if err := decodeStrict(data, &bareWire{}); err != nil {
			return nil, err
		}
		return Disconnect{}, nil

	case env.Type == "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func parseInput(kind Type, data []byte) (Message, error) {
	var w inputWire
	if err := decodeStrict(data, &w); err != nil {
		return nil, err
	}

	pointer := kind != TypeKeyPress && kind != TypeKeyCombo
	if pointer {
		if w.X == nil || w.Y == nil {
			return nil, fmt.Errorf("%w: %s requires x and y", ErrInvalidField, kind)
		}
		if !isRatio(*w.X) || !isRatio(*w.Y) {
			return nil, fmt.Errorf("%w: x and y must be within [0,1]", ErrInvalidField)
		}
		if w.Key != nil || w.Keys != nil {
			return nil, fmt.Errorf("%w: %s does not take keys", ErrInvalidField, kind)
		}
	} else if w.X != nil || w.Y != nil || w.Button != nil || w.Delta != nil {
		return nil, fmt.Errorf("%w: %s does not take pointer fields", ErrInvalidField, kind)
	}

	switch kind {
	case TypeMouseMove:
		if w.Button != nil || w.Delta != nil {
			return nil, fmt.Errorf("%w: mouse_move takes only x and y", ErrInvalidField)
		}
	case TypeMouseClick, TypeMouseDoubleClick:
		if w.Delta != nil {
			return nil, fmt.Errorf("%w: %s does not take delta", ErrInvalidField, kind)
		}
	case TypeMouseScroll:
		if w.Delta == nil || w.Button != nil {
			return nil, fmt.Errorf("%w: mouse_scroll requires delta only", ErrInvalidField)
		}
	case TypeKeyPress:
		if w.Key == nil || *w.Key == "" || w.Keys != nil {
			return nil, fmt.Errorf("%w: key_press requires key", ErrInvalidField)
		}
	case TypeKeyCombo:
		if len(w.Keys) == 0 || w.Key != nil {
			return nil, fmt.Errorf("%w: key_combo requires keys", ErrInvalidField)
		}
	}

	ev := InputEvent{
		Kind:   kind,
		X:      w.X,
		Y:      w.Y,
		Button: w.Button,
		Delta:  w.Delta,
		Keys:   w.Keys,
		Raw:    bytes.Clone(data),
	}
	if w.Key != nil {
		ev.Key = *w.Key
	}
	return ev, nil
}

func isRatio(v float64) bool {
	return v >= 0 && v <= 1
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, ErrInvalidField) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return nil
}

// Encode serializes an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return data, nil
}
