package store

import (
	"encoding/json"
	"errors"
)

// ErrUnknownFormat is returned when no serializer exists for a format name.
var ErrUnknownFormat = errors.New("unknown serialization format")

// Serializer converts cached values to and from the byte slices the store
// holds.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer. Guild settings are raw JSON
// documents already, so JSON round-trips them without shape loss.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONSerializer creates a JSON serializer.
func NewJSONSerializer() Serializer {
	return JSONSerializer{}
}

// GetSerializer resolves a format name from configuration to a Serializer.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "json":
		return NewJSONSerializer(), nil
	default:
		return nil, ErrUnknownFormat
	}
}
