package toolhost

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServerDescriptor declares one external tool-server process. The Name
// doubles as the namespace prefix for every tool the server exposes.
// Descriptors are immutable after load.
type ServerDescriptor struct {
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Description string            `json:"description,omitempty"`
}

// LoadServers reads an ordered JSON list of server descriptors from
// path and validates it. Malformed entries are rejected here, before
// any connection work begins.
func LoadServers(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolhost: reading server config: %w", err)
	}
	var descs []ServerDescriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("toolhost: parsing server config %s: %w", path, err)
	}
	if err := ValidateServers(descs); err != nil {
		return nil, err
	}
	return descs, nil
}

// ValidateServers checks that every descriptor has a name and a launch
// command and that names are unique within the list.
func ValidateServers(descs []ServerDescriptor) error {
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return &ConfigError{Name: d.Command, Reason: "server name is empty"}
		}
		if d.Command == "" {
			return &ConfigError{Name: d.Name, Reason: "launch command is empty"}
		}
		if _, ok := seen[d.Name]; ok {
			return &ConfigError{Name: d.Name, Reason: "duplicate server name"}
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}
