package datamodel

import (
	"regexp"
	"sort"
	"strings"

	"github.com/maruel/natural"
)

// Resolver is the path resolver (C3): it translates user-supplied paths
// (exact, instance-numbered, partial, wildcarded) into sets of concrete
// paths validated against the schema, in natural instance order (S2: Pic.9
// before Pic.10).
type Resolver struct {
	store *Store
}

// NewResolver builds a Resolver over store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// FindParams returns every concrete parameter path matching path.
func (r *Resolver) FindParams(path string) ([]string, error) {
	found, err := r.store.FindParams(path)
	if err != nil {
		return nil, err
	}
	sort.Sort(natural.StringSlice(found))
	return found, nil
}

// FindInstances returns every concrete row's partial path under
// partialPath, one per row, meta-keys excluded.
func (r *Resolver) FindInstances(partialPath string) ([]string, error) {
	found, err := r.store.FindInstances(partialPath)
	if err != nil {
		return nil, err
	}
	sort.Sort(natural.StringSlice(found))
	return found, nil
}

// FindImplObjects returns the generic schema partial paths under
// partialPath.
func (r *Resolver) FindImplObjects(partialPath string, nextLevel bool) ([]string, error) {
	found, err := r.store.FindImplObjects(partialPath, nextLevel)
	if err != nil {
		return nil, err
	}
	sort.Sort(natural.StringSlice(found))
	return found, nil
}

// AffectedPathsForGet returns the generic concrete object paths under
// partialPath whose schema exists, even if no rows exist yet (spec.md
// 4.4.5). A partial path with no "{i}" children simply resolves to itself
// once its schema membership is confirmed.
func (r *Resolver) AffectedPathsForGet(partialPath string) ([]string, error) {
	objs, err := r.store.FindImplObjects(partialPath, false)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		// partialPath itself may be a leaf object with no deeper schema
		// children; confirm it is still schema-backed via find_instances
		// when it's a table row, else treat it as already resolved.
		if containsInstanceOrWildcard(partialPath) {
			if instances, instErr := r.store.FindInstances(stripToTableRoot(partialPath)); instErr == nil {
				rowRe, reErr := regexp.Compile(dbRegex(partialPath, false))
				if reErr != nil {
					return nil, reErr
				}
				var rows []string
				for _, inst := range instances {
					if rowRe.MatchString(inst) {
						rows = append(rows, inst)
					}
				}
				sort.Sort(natural.StringSlice(rows))
				return rows, nil
			}
		}
		return []string{partialPath}, nil
	}
	sort.Sort(natural.StringSlice(objs))
	return objs, nil
}

// AffectedPathsForSet returns the actual concrete rows under partialPath. A
// no-row outcome against a static or searching path is legal and returns an
// empty, error-free slice; an instance-numbered path with no matching row is
// a SetValidationError-worthy NoSuchPathError.
func (r *Resolver) AffectedPathsForSet(partialPath string) ([]string, error) {
	isStatic := IsPartialPathStatic(partialPath)
	isSearch := IsPartialPathSearching(partialPath)

	rows, err := r.findRowsForSet(partialPath)
	if err != nil {
		if _, ok := err.(*NoSuchPathError); ok {
			return nil, &NoSuchPathError{Path: partialPath}
		}
		return nil, err
	}

	if len(rows) == 0 && !isStatic && !isSearch {
		return nil, &NoSuchPathError{Path: partialPath}
	}

	sort.Sort(natural.StringSlice(rows))
	return rows, nil
}

func (r *Resolver) findRowsForSet(partialPath string) ([]string, error) {
	if containsInstanceOrWildcard(partialPath) {
		tableRoot := stripToTableRoot(partialPath)
		instances, err := r.store.FindInstances(tableRoot)
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, inst := range instances {
			if strings.HasPrefix(partialPath, inst) || inst == partialPath {
				matches = append(matches, inst)
			}
		}
		if len(matches) == 0 {
			// The path names a specific instance number that doesn't exist;
			// confirm it's at least schema-legal before calling it empty.
			if _, implErr := r.store.FindImplObjects(partialPath, true); implErr != nil {
				return nil, implErr
			}
		}
		return matches, nil
	}

	params, err := r.store.FindParams(partialPath)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, nil
	}
	return []string{partialPath}, nil
}

// IsPartialPathStatic reports whether partialPath contains neither a decimal
// instance-number segment nor a "*" segment (spec.md 4.4.3).
func IsPartialPathStatic(partialPath string) bool {
	if IsPartialPathSearching(partialPath) {
		return false
	}
	return !instNumRe.MatchString(partialPath)
}

// IsPartialPathSearching reports whether partialPath contains a "*" segment.
func IsPartialPathSearching(partialPath string) bool {
	return strings.Contains(partialPath, ".*.")
}

func containsInstanceOrWildcard(path string) bool {
	return instNumRe.MatchString(path) || strings.Contains(path, ".*.")
}

// stripToTableRoot trims a path down through (and including) its last
// instance-number or wildcard segment, giving the partial path FindInstances
// expects as a table root. Using the last such segment (rather than the
// first) matters for doubly-instanced paths like
// "Device.Services.HomeAutomation.1.Camera.1.": the row being addressed is
// the Camera row, not the outer HomeAutomation row.
func stripToTableRoot(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "."), ".")
	lastIdx := -1
	for i, p := range parts {
		if p == "*" || isDecimal(p) {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return path
	}
	return strings.Join(parts[:lastIdx], ".") + "."
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
