package main

import (
	"context"
	"sort"
	"strings"
	"sync"

	"integram/pkg/store"
)

// memStore is an in-memory table per database, matching the accessor's
// observable behavior closely enough for handler tests.
type memStore struct {
	mu     sync.Mutex
	tables map[string]map[int64]store.Row
}

func newMemStore() *memStore {
	return &memStore{tables: map[string]map[int64]store.Row{}}
}

func (m *memStore) table(db string) map[int64]store.Row {
	t, ok := m.tables[db]
	if !ok {
		t = map[int64]store.Row{}
		m.tables[db] = t
	}
	return t
}

func (m *memStore) nextID(db string) int64 {
	var max int64
	for id := range m.table(db) {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// seed inserts a row with a fixed id, for test fixtures.
func (m *memStore) seed(db string, r store.Row) store.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.nextID(db)
	}
	if r.Ord == 0 {
		r.Ord = 1
	}
	m.table(db)[r.ID] = r
	return r
}

func (m *memStore) Insert(ctx context.Context, db string, up, ord, t int64, val string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ord <= 0 {
		ord = 1
	}
	id := m.nextID(db)
	m.table(db)[id] = store.Row{ID: id, Up: up, Ord: ord, T: t, Val: val}
	return id, nil
}

func (m *memStore) InsertWithID(ctx context.Context, db string, r store.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(db)[r.ID] = r
	return nil
}

func (m *memStore) update(db string, id int64, f func(*store.Row)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(db)[id]
	if !ok {
		return false, nil
	}
	f(&r)
	m.table(db)[id] = r
	return true, nil
}

func (m *memStore) UpdateValue(ctx context.Context, db string, id int64, val string) (bool, error) {
	return m.update(db, id, func(r *store.Row) { r.Val = val })
}

func (m *memStore) UpdateType(ctx context.Context, db string, id, t int64) (bool, error) {
	return m.update(db, id, func(r *store.Row) { r.T = t })
}

func (m *memStore) UpdateUp(ctx context.Context, db string, id, up int64) (bool, error) {
	return m.update(db, id, func(r *store.Row) { r.Up = up })
}

func (m *memStore) UpdateOrd(ctx context.Context, db string, id, ord int64) (bool, error) {
	return m.update(db, id, func(r *store.Row) { r.Ord = ord })
}

func (m *memStore) Delete(ctx context.Context, db string, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.table(db)[id]; !ok {
		return false, nil
	}
	delete(m.table(db), id)
	return true, nil
}

func (m *memStore) DeleteChildren(ctx context.Context, db string, up int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.table(db) {
		if r.Up == up {
			delete(m.table(db), id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetByID(ctx context.Context, db string, id int64) (*store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(db)[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) GetRequisiteByType(ctx context.Context, db string, up, t int64) (*store.Row, error) {
	rows := m.sorted(db, func(r store.Row) bool { return r.Up == up && r.T == t })
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (m *memStore) FindByTypeValue(ctx context.Context, db string, t int64, val string) (*store.Row, error) {
	rows := m.sorted(db, func(r store.Row) bool { return r.T == t && r.Val == val })
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (m *memStore) NextOrder(ctx context.Context, db string, up int64) (int64, error) {
	return m.nextOrd(db, func(r store.Row) bool { return r.Up == up }), nil
}

func (m *memStore) NextOrderOfType(ctx context.Context, db string, up, t int64) (int64, error) {
	return m.nextOrd(db, func(r store.Row) bool { return r.Up == up && r.T == t }), nil
}

func (m *memStore) nextOrd(db string, keep func(store.Row) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, r := range m.table(db) {
		if keep(r) && r.Ord > max {
			max = r.Ord
		}
	}
	return max + 1
}

func (m *memStore) ListChildren(ctx context.Context, db string, up int64, f store.Filter) ([]store.Row, error) {
	rows := m.sorted(db, func(r store.Row) bool {
		if r.Up != up {
			return false
		}
		if f.Type != 0 && r.T != f.Type {
			return false
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(r.Val), strings.ToLower(f.Search)) {
			return false
		}
		return true
	})
	if f.Offset > 0 {
		if f.Offset >= int64(len(rows)) {
			return nil, nil
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < int64(len(rows)) {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (m *memStore) CountChildren(ctx context.Context, db string, up int64, f store.Filter) (int64, error) {
	rows, err := m.ListChildren(ctx, db, up, store.Filter{Type: f.Type, Search: f.Search})
	return int64(len(rows)), err
}

func (m *memStore) ListTypeDefs(ctx context.Context, db string, t int64) ([]store.Row, error) {
	return m.sorted(db, func(r store.Row) bool {
		return r.Up == 0 && (t == 0 || r.T == t)
	}), nil
}

func (m *memStore) ListByValue(ctx context.Context, db, val string, limit int64) ([]store.Row, error) {
	rows := m.sortedByID(db, func(r store.Row) bool { return r.Val == val })
	if limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) ListByType(ctx context.Context, db string, t, afterID, limit int64) ([]store.Row, error) {
	rows := m.sortedByID(db, func(r store.Row) bool { return r.T == t && r.ID > afterID })
	if limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) PageRows(ctx context.Context, db string, afterID, limit int64) ([]store.Row, error) {
	rows := m.sortedByID(db, func(r store.Row) bool { return r.ID > afterID })
	if limit > 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memStore) ResolveContext(ctx context.Context, db string, id int64) (*store.ObjectContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(db)[id]
	if !ok {
		return nil, nil
	}
	oc := &store.ObjectContext{ID: id, Type: r.T, Val: r.Val, ParentID: r.Up}
	if p, ok := m.table(db)[r.Up]; ok {
		oc.ParentType = p.T
		oc.ParentUp = p.Up
	}
	if tr, ok := m.table(db)[r.T]; ok {
		oc.TypeUp = tr.Up
	}
	return oc, nil
}

func (m *memStore) CreateTable(ctx context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(db)
	return nil
}

func (m *memStore) Truncate(ctx context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[db] = map[int64]store.Row{}
	return nil
}

// sorted returns matching rows in (ord, id) order, the accessor's child sort.
func (m *memStore) sorted(db string, keep func(store.Row) bool) []store.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Row
	for _, r := range m.table(db) {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ord != out[j].Ord {
			return out[i].Ord < out[j].Ord
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) sortedByID(db string, keep func(store.Row) bool) []store.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Row
	for _, r := range m.table(db) {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
