package loader

import (
	"encoding/json"
	"fmt"
)

// Settings is the opaque settings blob. Its schema is owned by the viewer
// front end; the workspace only stores and republishes it.
type Settings map[string]json.RawMessage

// ParseSettings validates that the blob is a JSON object and returns it.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return s, nil
}
