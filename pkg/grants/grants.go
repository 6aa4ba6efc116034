package grants

import (
	"context"
	"strconv"
	"strings"

	"integram/pkg/reqs"
	"integram/pkg/store"
)

// Level is an effective permission on an object or type id.
type Level string

const (
	Read  Level = "READ"
	Write Level = "WRITE"
)

// Store is what the resolver needs from the EAV accessor.
type Store interface {
	ListChildren(ctx context.Context, table string, up int64, f store.Filter) ([]store.Row, error)
	ListTypeDefs(ctx context.Context, table string, t int64) ([]store.Row, error)
	ResolveContext(ctx context.Context, table string, id int64) (*store.ObjectContext, error)
}

// Map holds one role's grants. It is rebuilt from the database on every
// request and never cached across requests.
type Map struct {
	Levels map[int64]Level
	Masks  map[int64]map[string]Level
	Export map[int64]bool
	Delete map[int64]bool
}

func NewMap() *Map {
	return &Map{
		Levels: map[int64]Level{},
		Masks:  map[int64]map[string]Level{},
		Export: map[int64]bool{},
		Delete: map[int64]bool{},
	}
}

// Load scans the ROLE_OBJECT children of a role row. Each names a target id
// in val; its LEVEL child carries the effective level, MASK / EXPORT / DELETE
// siblings fill the side maps.
func Load(ctx context.Context, s Store, table string, roleID int64) (*Map, error) {
	g := NewMap()
	if roleID == 0 {
		return g, nil
	}
	entries, err := s.ListChildren(ctx, table, roleID, store.Filter{Type: reqs.TypeRoleObject})
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		target, err := strconv.ParseInt(strings.TrimSpace(entry.Val), 10, 64)
		if err != nil || target <= 0 {
			continue
		}
		children, err := s.ListChildren(ctx, table, entry.ID, store.Filter{})
		if err != nil {
			return nil, err
		}
		level := Read
		for _, c := range children {
			switch c.T {
			case reqs.TypeLevel:
				if parsed, ok := parseLevel(c.Val); ok {
					level = parsed
				}
			case reqs.TypeMask:
				maskValue, maskLevel := parseMask(c.Val)
				if maskValue == "" {
					continue
				}
				if g.Masks[target] == nil {
					g.Masks[target] = map[string]Level{}
				}
				g.Masks[target][maskValue] = maskLevel
			case reqs.TypeExport:
				g.Export[target] = true
			case reqs.TypeDelete:
				g.Delete[target] = true
			}
		}
		g.Levels[target] = level
	}
	return g, nil
}

func parseLevel(v string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(Read):
		return Read, true
	case string(Write):
		return Write, true
	}
	return "", false
}

// Mask values are stored as "<value>=<LEVEL>"; a bare value means READ.
func parseMask(v string) (string, Level) {
	val, lvl, found := strings.Cut(v, "=")
	val = strings.TrimSpace(val)
	if !found {
		return val, Read
	}
	if parsed, ok := parseLevel(lvl); ok {
		return val, parsed
	}
	return val, Read
}

// satisfies reports whether a found grant level satisfies the request.
// WRITE implies READ.
func satisfies(have, want Level) bool {
	return have == want || have == Write
}

// IsAdmin is the superuser escape hatch; it must stay case-insensitive.
func IsAdmin(username string) bool {
	return strings.EqualFold(username, "admin")
}

const walkLimit = 64

// Check computes effective permission for (objectID, typeID). The walk is a
// depth-first single path: the first map that contains a key decides, even
// when the found level denies the request.
func Check(ctx context.Context, s Store, table string, g *Map, objectID, typeID int64, want Level, username string) (bool, error) {
	if IsAdmin(username) {
		return true, nil
	}
	if g == nil {
		return false, nil
	}
	if typeID != 0 {
		if have, ok := g.Levels[typeID]; ok {
			return satisfies(have, want), nil
		}
	}
	if have, ok := g.Levels[objectID]; ok {
		return satisfies(have, want), nil
	}
	current := objectID
	for depth := 0; depth < walkLimit; depth++ {
		oc, err := s.ResolveContext(ctx, table, current)
		if err != nil {
			return false, err
		}
		if oc == nil {
			return false, nil
		}
		for _, key := range contextKeys(oc) {
			if have, ok := g.Levels[key]; ok {
				return satisfies(have, want), nil
			}
		}
		if oc.ParentID <= 1 {
			return false, nil
		}
		current = oc.ParentID
	}
	return false, nil
}

// contextKeys lists the ancestry keys of one walk step in precedence order:
// the object's resolved type, its array sibling-group, its reference value,
// the parent's type, then the parent id.
func contextKeys(oc *store.ObjectContext) []int64 {
	keys := make([]int64, 0, 5)
	if oc.Type != 0 {
		keys = append(keys, oc.Type)
	}
	if oc.TypeUp > 1 {
		keys = append(keys, oc.TypeUp)
	}
	if oc.Type != reqs.TypeRepCols && oc.Type != reqs.TypeRoleObject {
		if ref, err := strconv.ParseInt(strings.TrimSpace(oc.Val), 10, 64); err == nil && ref > 0 {
			keys = append(keys, ref)
		}
	}
	if oc.ParentType != 0 {
		keys = append(keys, oc.ParentType)
	}
	if oc.ParentID != 0 {
		keys = append(keys, oc.ParentID)
	}
	return keys
}

// Grant1Level resolves the level for a top-level listing entry: explicit id,
// then the wildcard root grant, then one reverse-reference hop which is
// always capped at READ.
func Grant1Level(ctx context.Context, s Store, table string, g *Map, rootChildID int64, username string) (Level, bool, error) {
	if IsAdmin(username) {
		return Write, true, nil
	}
	if g == nil {
		return "", false, nil
	}
	if have, ok := g.Levels[rootChildID]; ok {
		return have, true, nil
	}
	if have, ok := g.Levels[1]; ok {
		return have, true, nil
	}
	refs, err := s.ListTypeDefs(ctx, table, rootChildID)
	if err != nil {
		return "", false, err
	}
	for _, ref := range refs {
		if _, ok := g.Levels[ref.ID]; ok {
			return Read, true, nil
		}
	}
	return "", false, nil
}
