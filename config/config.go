// Package config provides a small, file-backed configuration manager in the
// style of the agent's original ConfigMgr: a JSON file overrides a caller
// supplied default map, and a key missing from both is an error.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/golang/glog"
)

// MissingConfigError is returned when a key is absent from both the config
// file and the default map supplied by the caller.
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("config: key [%s] not found", e.Key)
}

// Manager resolves configuration keys against a loaded file, falling back to
// defaults. It is safe for concurrent reads; there is no runtime mutation.
type Manager struct {
	fileValues map[string]interface{}
	defaults   map[string]interface{}
}

// NewManager loads cfgFileName (if present) and pairs it with defaultValues.
// A missing or malformed file is tolerated, matching the original agent's
// behavior of treating it as an empty config rather than a startup failure.
func NewManager(cfgFileName string, defaultValues map[string]interface{}) *Manager {
	m := &Manager{
		fileValues: map[string]interface{}{},
		defaults:   defaultValues,
	}

	data, err := os.ReadFile(cfgFileName)
	if err != nil {
		log.V(1).Infof("config: no config file at [%s], using defaults only: %v", cfgFileName, err)
		return m
	}

	if err := json.Unmarshal(data, &m.fileValues); err != nil {
		log.Warningf("config: [%s] is not valid JSON, using defaults only: %v", cfgFileName, err)
		m.fileValues = map[string]interface{}{}
	}

	return m
}

// Get retrieves the configured value for key, preferring the config file over
// the default map, and reports a MissingConfigError if neither has it.
func (m *Manager) Get(key string) (interface{}, error) {
	if v, ok := m.fileValues[key]; ok {
		return v, nil
	}
	if v, ok := m.defaults[key]; ok {
		return v, nil
	}
	return nil, &MissingConfigError{Key: key}
}

// GetString is a convenience wrapper around Get for string-typed keys.
func (m *Manager) GetString(key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), nil
	}
	return s, nil
}
