package datamodel

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/golang/glog"
)

// Synthetic sentinel values (spec.md 3.3). A stored value equal to one of
// these strings is computed at get-time rather than returned literally.
const (
	sentinelUptime     = "__UPTIME__"
	sentinelIPAddr     = "__IPADDR__"
	sentinelCurrTime   = "__CURR_TIME__"
	sentinelNumEntries = "__NUM_ENTRIES__"
)

// Store is the instance store (C2): a persisted flat mapping from concrete
// parameter path to value, with synthetic sentinels and serialized writes.
type Store struct {
	schema *Schema

	mu       sync.RWMutex // guards data
	writeMu  sync.Mutex   // serializes update/insert/delete
	instMu   sync.Mutex   // serializes __NextInstNum__ allocation
	data     map[string]string
	filename string

	startTime time.Time
	ipIntf    string

	supportedInsertPaths map[string]bool
	supportedDeletePaths map[string]bool
}

// NewStore loads a persisted flat-JSON store file against schema.
func NewStore(schema *Schema, dbFilename, ipIntf string) (*Store, error) {
	s := &Store{
		schema:    schema,
		data:      map[string]string{},
		filename:  dbFilename,
		startTime: time.Now(),
		ipIntf:    ipIntf,
		supportedInsertPaths: map[string]bool{
			"Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.": true,
		},
		supportedDeletePaths: map[string]bool{
			"Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.{i}.": true,
		},
	}

	data, err := os.ReadFile(dbFilename)
	if err != nil {
		log.Warningf("store: could not read persisted database [%s]: %v", dbFilename, err)
		return s, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Errorf("store: persisted database [%s] is not properly formatted JSON: %v", dbFilename, err)
		return s, nil
	}

	s.data = raw
	return s, nil
}

// Get resolves sentinels and returns the value for path, or NoSuchPathError.
func (s *Store) Get(path string) (string, error) {
	s.mu.RLock()
	raw, ok := s.data[path]
	s.mu.RUnlock()
	if !ok {
		return "", NewNoSuchPathError(path)
	}

	switch raw {
	case sentinelUptime:
		return strconv.FormatInt(int64(time.Since(s.startTime).Seconds()), 10), nil
	case sentinelIPAddr:
		return s.ipAddr(), nil
	case sentinelCurrTime:
		return s.currTime(), nil
	case sentinelNumEntries:
		instPath := strings.Replace(path, "NumberOfEntries", ".", 1)
		instances, err := s.findInstancesLocked(instPath)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(len(instances)), nil
	default:
		return raw, nil
	}
}

// GetInt is a convenience wrapper for integer-valued parameters (e.g.
// PeriodicInterval, MinTriggerFreq).
func (s *Store) GetInt(path string) (int, error) {
	v, err := s.Get(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: value at %s is not an integer: %v", path, err)
	}
	return n, nil
}

// GetBool is a convenience wrapper for boolean-valued parameters.
func (s *Store) GetBool(path string) (bool, error) {
	v, err := s.Get(path)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("store: value at %s is not a boolean: %v", path, err)
	}
	return b, nil
}

// Update overwrites path's value, persisting on success. Fails with
// NoSuchPathError if path is absent.
func (s *Store) Update(path, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.data[path]; !ok {
		s.mu.Unlock()
		return NewNoSuchPathError(path)
	}
	s.data[path] = value
	s.mu.Unlock()

	return s.save()
}

// UpdateAll applies a batch of writes atomically with respect to readers: no
// reader observes a partially-applied batch, and the persisted file reflects
// either all of the writes or none of them (spec.md invariant 6). Every key
// must already exist.
func (s *Store) UpdateAll(writes map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	for path := range writes {
		if _, ok := s.data[path]; !ok {
			s.mu.Unlock()
			return NewNoSuchPathError(path)
		}
	}
	for path, value := range writes {
		s.data[path] = value
	}
	s.mu.Unlock()

	return s.save()
}

// IsWritable reports whether path's schema entry is read-write. Returns
// NoSuchPathError if the generic form of path has no schema entry.
func (s *Store) IsWritable(path string) (bool, error) {
	generic := genericDMPath(path)
	mode, ok := s.schema.AccessModeOf(generic)
	if !ok {
		return false, NewNoSuchPathError(path)
	}
	return mode == ReadWrite, nil
}

// FindParams returns the concrete parameter paths matching path (C3
// find_params, kept on Store since it needs direct access to raw keys).
func (s *Store) FindParams(path string) ([]string, error) {
	partial := strings.HasSuffix(path, ".")
	dmRe, err := regexp.Compile(dmRegex(path, partial))
	if err != nil {
		return nil, err
	}

	implemented := false
	for _, key := range s.schema.Keys() {
		if dmRe.MatchString(key) {
			implemented = true
			break
		}
	}
	if !implemented {
		return nil, NewNoSuchPathError(path)
	}

	dbRe, err := regexp.Compile(dbRegex(path, partial))
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []string
	for key := range s.data {
		if dbRe.MatchString(key) {
			found = append(found, key)
		}
	}
	return found, nil
}

// FindInstances returns the concrete partial paths (one per row) under
// partialPath, excluding meta-keys. partialPath must end in "." and its next
// schema segment must be "{i}".
func (s *Store) FindInstances(partialPath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findInstancesLocked(partialPath)
}

func (s *Store) findInstancesLocked(partialPath string) ([]string, error) {
	if !strings.HasSuffix(partialPath, ".") {
		return nil, NewNoSuchPathError(partialPath)
	}

	dmRe, err := regexp.Compile(dmRegex(partialPath, true))
	if err != nil {
		return nil, err
	}
	dbRe, err := regexp.Compile(dbRegex(partialPath, true))
	if err != nil {
		return nil, err
	}

	partLen := len(strings.Split(partialPath, ".")) - 1

	implemented := false
	for _, dmKey := range s.schema.Keys() {
		if !dmRe.MatchString(dmKey) {
			continue
		}
		parts := strings.Split(dmKey, ".")
		if partLen < len(parts) && parts[partLen] == "{i}" {
			implemented = true
			break
		}
	}
	if !implemented {
		return nil, NewNoSuchPathError(partialPath)
	}

	seen := map[string]bool{}
	var found []string
	for key := range s.data {
		if !dbRe.MatchString(key) {
			continue
		}
		parts := strings.Split(key, ".")
		if partLen >= len(parts) {
			continue
		}
		if isMetaParameter(parts, partLen) {
			continue
		}
		built := buildPathFromParts(parts, partLen) + parts[partLen] + "."
		if !seen[built] {
			seen[built] = true
			found = append(found, built)
		}
	}
	return found, nil
}

// FindImplObjects returns the generic schema partial paths under
// partialPath. When nextLevel is true only direct one-segment children are
// returned; otherwise every deeper schema object is returned.
func (s *Store) FindImplObjects(partialPath string, nextLevel bool) ([]string, error) {
	if !strings.HasSuffix(partialPath, ".") {
		return nil, NewNoSuchPathError(partialPath)
	}

	dmRe, err := regexp.Compile(dmRegex(partialPath, true))
	if err != nil {
		return nil, err
	}

	partLen := len(strings.Split(partialPath, ".")) - 1
	generic := genericDMPath(partialPath)

	implemented := false
	seen := map[string]bool{}
	var found []string
	for _, dmKey := range s.schema.Keys() {
		if !dmRe.MatchString(dmKey) {
			continue
		}
		implemented = true
		parts := strings.Split(dmKey, ".")

		var foundKey string
		hasKey := false
		if nextLevel {
			if len(parts) > partLen+1 {
				foundKey = buildPathFromParts(parts, partLen) + parts[partLen] + "."
				hasKey = true
			}
		} else {
			foundKey = strings.Join(parts[:len(parts)-1], ".")
			if foundKey != "" {
				foundKey += "."
			}
			hasKey = true
		}

		if hasKey && !seen[foundKey] && foundKey != generic {
			seen[foundKey] = true
			found = append(found, foundKey)
		}
	}

	if !implemented {
		return nil, NewNoSuchPathError(partialPath)
	}
	return found, nil
}

// Insert allocates the next instance number under partialPath and creates
// the row, provided partialPath is on the supported-insert allow-list.
func (s *Store) Insert(partialPath string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	implObjs, err := s.FindImplObjects(partialPath, true)
	if err != nil || len(implObjs) == 0 {
		return 0, NewNoSuchPathError(partialPath)
	}

	generic := insertDeleteRegex(partialPath)
	if !s.supportedInsertPaths[generic] {
		return 0, NewNoSuchPathError(partialPath)
	}

	nextInstPath := partialPath + "__NextInstNum__"

	s.instMu.Lock()
	nextInst, err := s.Get(nextInstPath)
	if err != nil {
		s.instMu.Unlock()
		return 0, err
	}
	nextInstNum, convErr := strconv.Atoi(nextInst)
	if convErr != nil {
		s.instMu.Unlock()
		return 0, convErr
	}

	s.mu.Lock()
	s.data[nextInstPath] = strconv.Itoa(nextInstNum + 1)
	s.mu.Unlock()
	s.instMu.Unlock()

	switch generic {
	case "Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.":
		s.mu.Lock()
		s.data[partialPath+strconv.Itoa(nextInstNum)+".URL"] = ""
		s.mu.Unlock()
	default:
		return 0, &NotImplementedError{Path: partialPath}
	}

	if err := s.save(); err != nil {
		return 0, err
	}
	return nextInstNum, nil
}

// Delete removes every key under partialPath, provided it is on the
// supported-delete allow-list.
func (s *Store) Delete(partialPath string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.FindImplObjects(partialPath, true); err != nil {
		return NewNoSuchPathError(partialPath)
	}

	generic := insertDeleteRegex(partialPath)
	if !s.supportedDeletePaths[generic] {
		return NewNoSuchPathError(partialPath)
	}

	switch generic {
	case "Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.{i}.":
		s.mu.Lock()
		for key := range s.data {
			if strings.HasPrefix(key, partialPath) {
				delete(s.data, key)
			}
		}
		s.mu.Unlock()
	default:
		return &NotImplementedError{Path: partialPath}
	}

	return s.save()
}

func (s *Store) save() error {
	s.mu.RLock()
	snapshot, err := json.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := s.filename + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filename)
}

func (s *Store) ipAddr() string {
	if s.ipIntf != "" {
		if iface, err := net.InterfaceByName(s.ipIntf); err == nil {
			if addr := firstIPv4(iface); addr != "" {
				return addr
			}
		}
		log.Warningf("store: could not resolve IPv4 address for interface [%s]", s.ipIntf)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if addr := firstIPv4(&iface); addr != "" {
			return addr
		}
	}
	return ""
}

func firstIPv4(iface *net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}

func (s *Store) currTime() string {
	tz, _ := s.Get("Device.Time.LocalTimeZone")
	tzPart := strings.Split(tz, ",")[0]
	now := time.Now()
	out := now.Format("2006-01-02T15:04:05")
	if tzPart == "CST6CDT" {
		out += "-06:00"
	} else {
		out += "Z"
	}
	return out
}

func isMetaParameter(parts []string, idx int) bool {
	if idx >= len(parts) {
		return false
	}
	p := parts[idx]
	return strings.HasPrefix(p, "__") && strings.HasSuffix(p, "__")
}

func buildPathFromParts(parts []string, partLen int) string {
	var b strings.Builder
	count := 0
	for _, p := range parts {
		count++
		b.WriteString(p)
		b.WriteString(".")
		if count == partLen {
			break
		}
	}
	return b.String()
}

var instNumRe = regexp.MustCompile(`\.\d+\.`)

// genericDMPath turns an instance-numbered or wildcarded path into its
// generic schema form by replacing ".N." / ".*." segments with ".{i}.".
func genericDMPath(path string) string {
	path = instNumRe.ReplaceAllString(path, ".{i}.")
	path = strings.ReplaceAll(path, ".*.", ".{i}.")
	return path
}

// insertDeleteRegex mirrors the original agent_db.py insert()/delete() regex
// derivation: collapse any `{...}` placeholder and any `.N.` instance segment
// down to `.{i}.` so the result can be looked up in the allow-list maps.
func insertDeleteRegex(partialPath string) string {
	braced := regexp.MustCompile(`\{(.+?)\}`)
	out := braced.ReplaceAllString(partialPath, "{i}")
	out = instNumRe.ReplaceAllString(out, ".{i}.")
	return out
}

// dmRegex builds the "is this path implemented by the schema" regex: decimal
// instance numbers and `*` wildcards collapse to `{i}`, and `.` is escaped.
// `{i}` is left unescaped, exactly as the original Python derivation does;
// since `i` isn't numeric, both Python's re and Go's RE2 treat `{i}` as a
// literal brace sequence rather than a repetition quantifier.
func dmRegex(path string, partial bool) string {
	out := "^" + path
	out = instNumRe.ReplaceAllString(out, `.{i}.`)
	out = strings.ReplaceAll(out, ".*.", ".{i}.")
	out = strings.ReplaceAll(out, ".", `\.`)
	if partial {
		out += ".*"
	}
	return out + "$"
}

// dbRegex builds the "which store keys does this path match" regex: `*`
// wildcards expand to `[0-9]+`.
func dbRegex(path string, partial bool) string {
	out := "^" + path
	out = strings.ReplaceAll(out, ".*.", `.[0-9]+.`)
	out = strings.ReplaceAll(out, ".", `\.`)
	if partial {
		out += ".*"
	}
	return out + "$"
}
