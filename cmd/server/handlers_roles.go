package main

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"
	"integram/pkg/store"
	"integram/pkg/stream"
)

// Role administration is admin-only: handing out grants is itself the
// highest privilege.
func (s *Server) requireRoleAdmin(rq *request) error {
	if rq.session == nil || !grants.IsAdmin(rq.session.Username) {
		return httpx.Denied("role administration requires admin")
	}
	return nil
}

func (s *Server) handleRoleNew(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	name := rq.param("val")
	if name == "" {
		return nil, httpx.Validation("val is required")
	}
	ord, err := s.Store.NextOrderOfType(ctx, rq.db, 0, reqs.TypeRole)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	id, err := s.Store.Insert(ctx, rq.db, 0, ord, reqs.TypeRole, name)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rq.id = id
	s.publishRow(stream.EventRowCreated, rq, id, 0, reqs.TypeRole, name)
	return models.OK{ID: id}, nil
}

func (s *Server) handleRoleDel(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	role, err := s.fetchRole(ctx, rq)
	if err != nil {
		return nil, err
	}
	entries, err := s.Store.ListChildren(ctx, rq.db, role.ID, store.Filter{})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	for _, e := range entries {
		if _, err := s.Store.DeleteChildren(ctx, rq.db, e.ID); err != nil {
			return nil, httpx.StoreFailed(err)
		}
	}
	if _, err := s.Store.DeleteChildren(ctx, rq.db, role.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.Delete(ctx, rq.db, role.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, role.ID, 0, reqs.TypeRole, "")
	return models.OK{ID: role.ID, Msg: "role removed"}, nil
}

// handleRoleGrant sets the level for one target under a role, creating the
// ROLE_OBJECT entry when missing and replacing any existing LEVEL child.
func (s *Server) handleRoleGrant(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	role, err := s.fetchRole(ctx, rq)
	if err != nil {
		return nil, err
	}
	target := rq.paramInt("target")
	if target <= 0 {
		return nil, httpx.Validation("target is required")
	}
	level := strings.ToUpper(rq.param("level"))
	if level != string(grants.Read) && level != string(grants.Write) {
		return nil, httpx.Validation("level must be READ or WRITE")
	}
	entry, err := s.roleEntry(ctx, rq.db, role.ID, target)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		ord, err := s.Store.NextOrder(ctx, rq.db, role.ID)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		id, err := s.Store.Insert(ctx, rq.db, role.ID, ord, reqs.TypeRoleObject, strconv.FormatInt(target, 10))
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		entry = &store.Row{ID: id, Up: role.ID, T: reqs.TypeRoleObject}
	}
	lvl, err := s.Store.GetRequisiteByType(ctx, rq.db, entry.ID, reqs.TypeLevel)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if lvl != nil {
		if _, err := s.Store.UpdateValue(ctx, rq.db, lvl.ID, level); err != nil {
			return nil, httpx.StoreFailed(err)
		}
	} else {
		if _, err := s.Store.Insert(ctx, rq.db, entry.ID, 1, reqs.TypeLevel, level); err != nil {
			return nil, httpx.StoreFailed(err)
		}
	}
	s.publishRow(stream.EventRowUpdated, rq, entry.ID, role.ID, reqs.TypeRoleObject, level)
	return models.OK{ID: entry.ID, Msg: "granted"}, nil
}

func (s *Server) handleRoleUngrant(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	role, err := s.fetchRole(ctx, rq)
	if err != nil {
		return nil, err
	}
	target := rq.paramInt("target")
	entry, err := s.roleEntry(ctx, rq.db, role.ID, target)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, httpx.NotFound("no grant for target")
	}
	if _, err := s.Store.DeleteChildren(ctx, rq.db, entry.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.Delete(ctx, rq.db, entry.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, entry.ID, role.ID, reqs.TypeRoleObject, "")
	return models.OK{ID: entry.ID, Msg: "revoked"}, nil
}

func (s *Server) handleRoleGrants(ctx context.Context, rq *request) (any, error) {
	role, err := s.fetchRole(ctx, rq)
	if err != nil {
		return nil, err
	}
	g, err := grants.Load(ctx, s.Store, rq.db, role.ID)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "Target", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Level", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Export", Type: reqs.TypeBoolean, Format: string(reqs.AlignCenter)},
		{ID: 0, Name: "Delete", Type: reqs.TypeBoolean, Format: string(reqs.AlignCenter)},
	}}
	targets := make([]int64, 0, len(g.Levels))
	for target := range g.Levels {
		targets = append(targets, target)
	}
	slices.Sort(targets)
	for _, target := range targets {
		rep.Data = append(rep.Data, []string{
			strconv.FormatInt(target, 10),
			string(g.Levels[target]),
			boolMark(g.Export[target]),
			boolMark(g.Delete[target]),
		})
	}
	return rep, nil
}

// handleRoleMask adds one value mask under a grant entry. Masks store as
// "<value>=<LEVEL>" with a bare value meaning READ.
func (s *Server) handleRoleMask(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	val := rq.param("mask")
	if val == "" {
		return nil, httpx.Validation("mask is required")
	}
	return s.addGrantChild(ctx, rq, reqs.TypeMask, val)
}

func (s *Server) handleRoleExport(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	return s.addGrantChild(ctx, rq, reqs.TypeExport, "")
}

func (s *Server) handleRoleDeletable(ctx context.Context, rq *request) (any, error) {
	if err := s.requireRoleAdmin(rq); err != nil {
		return nil, err
	}
	return s.addGrantChild(ctx, rq, reqs.TypeDelete, "")
}

func (s *Server) addGrantChild(ctx context.Context, rq *request, t int64, val string) (any, error) {
	role, err := s.fetchRole(ctx, rq)
	if err != nil {
		return nil, err
	}
	target := rq.paramInt("target")
	entry, err := s.roleEntry(ctx, rq.db, role.ID, target)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, httpx.NotFound("no grant for target")
	}
	if t != reqs.TypeMask {
		existing, err := s.Store.GetRequisiteByType(ctx, rq.db, entry.ID, t)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		if existing != nil {
			return models.OK{ID: existing.ID, Msg: "already set"}, nil
		}
	}
	ord, err := s.Store.NextOrder(ctx, rq.db, entry.ID)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	id, err := s.Store.Insert(ctx, rq.db, entry.ID, ord, t, val)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowCreated, rq, id, entry.ID, t, val)
	return models.OK{ID: id}, nil
}

func (s *Server) fetchRole(ctx context.Context, rq *request) (*store.Row, error) {
	roleID := rq.paramInt("role")
	if roleID == 0 {
		roleID = rq.id
	}
	if roleID == 0 {
		return nil, httpx.Validation("role is required")
	}
	row, err := s.Store.GetByID(ctx, rq.db, roleID)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if row == nil || row.T != reqs.TypeRole {
		return nil, httpx.NotFound("role not found")
	}
	return row, nil
}

// roleEntry finds the ROLE_OBJECT child naming target, or nil.
func (s *Server) roleEntry(ctx context.Context, db string, roleID, target int64) (*store.Row, error) {
	if target <= 0 {
		return nil, httpx.Validation("target is required")
	}
	entries, err := s.Store.ListChildren(ctx, db, roleID, store.Filter{Type: reqs.TypeRoleObject})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	want := strconv.FormatInt(target, 10)
	for i := range entries {
		if strings.TrimSpace(entries[i].Val) == want {
			return &entries[i], nil
		}
	}
	return nil, nil
}
