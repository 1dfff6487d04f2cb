package datamodel

import (
	"encoding/json"
	"os"
	"strings"

	log "github.com/golang/glog"
)

// AccessMode is the access-mode value a schema entry declares.
type AccessMode string

const (
	ReadOnly  AccessMode = "readOnly"
	ReadWrite AccessMode = "readWrite"
)

// Schema is the registry of legal generic paths (C1). It is loaded once at
// startup from a flat JSON description file and is immutable thereafter;
// concurrent reads need no lock.
type Schema struct {
	paths map[string]AccessMode
}

// LoadSchema reads a flat JSON object (generic path -> "readOnly"/"readWrite")
// from filename and returns the resulting Schema.
func LoadSchema(filename string) (*Schema, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Errorf("schema: implemented data model [%s] is not properly formatted JSON: %v", filename, err)
		return &Schema{paths: map[string]AccessMode{}}, nil
	}

	paths := make(map[string]AccessMode, len(raw))
	for k, v := range raw {
		paths[k] = AccessMode(v)
	}

	return &Schema{paths: paths}, nil
}

// AccessModeOf returns the access mode declared for an exact generic path.
func (s *Schema) AccessModeOf(genericPath string) (AccessMode, bool) {
	mode, ok := s.paths[genericPath]
	return mode, ok
}

// IsOperation reports whether genericPath names an RPC operation (schema
// entries for operations end in "()").
func (s *Schema) IsOperation(genericPath string) bool {
	return strings.HasSuffix(genericPath, "()")
}

// Keys returns every generic path the schema declares. The returned slice is
// owned by the caller; schema contents are never mutated after load.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.paths))
	for k := range s.paths {
		keys = append(keys, k)
	}
	return keys
}

// Len reports how many generic paths are registered.
func (s *Schema) Len() int {
	return len(s.paths)
}
