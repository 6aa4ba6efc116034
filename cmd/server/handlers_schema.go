package main

import (
	"context"
	"strconv"

	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"
	"integram/pkg/store"
	"integram/pkg/stream"
)

func (s *Server) handleTNew(ctx context.Context, rq *request) (any, error) {
	name := rq.param("val")
	if name == "" {
		return nil, httpx.Validation("val is required")
	}
	if err := s.requireLevel(ctx, rq, reqs.TypeRoot, 0, grants.Write); err != nil {
		return nil, err
	}
	t := rq.paramInt("t")
	if t == 0 {
		t = reqs.TypeChars
	}
	ord, err := s.Store.NextOrder(ctx, rq.db, 0)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	id, err := s.Store.Insert(ctx, rq.db, 0, ord, t, name)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rq.id = id
	s.publishRow(stream.EventRowCreated, rq, id, 0, t, name)
	return models.OK{ID: id}, nil
}

func (s *Server) handleTDel(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchTypeDef(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, 0, grants.Write); err != nil {
		return nil, err
	}
	if _, err := s.Store.DeleteChildren(ctx, rq.db, row.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.Delete(ctx, rq.db, row.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, row.ID, 0, row.T, "")
	return models.OK{ID: row.ID, Msg: "type removed"}, nil
}

func (s *Server) handleTReqNew(ctx context.Context, rq *request) (any, error) {
	up := rq.paramInt("up")
	if up == 0 {
		up = rq.id
	}
	name := rq.param("val")
	if up == 0 || name == "" {
		return nil, httpx.Validation("up and val are required")
	}
	typeRow, err := s.Store.GetByID(ctx, rq.db, up)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if typeRow == nil || typeRow.Up != 0 {
		return nil, httpx.NotFound("type not found")
	}
	if err := s.requireLevel(ctx, rq, typeRow.ID, 0, grants.Write); err != nil {
		return nil, err
	}
	t := rq.paramInt("t")
	if t == 0 {
		t = reqs.TypeChars
	}
	ord, err := s.Store.NextOrder(ctx, rq.db, up)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	id, err := s.Store.Insert(ctx, rq.db, up, ord, t, name)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rq.id = id
	s.publishRow(stream.EventRowCreated, rq, id, up, t, name)
	return models.OK{ID: id}, nil
}

func (s *Server) handleTReqDel(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.Up, 0, grants.Write); err != nil {
		return nil, err
	}
	if _, err := s.Store.Delete(ctx, rq.db, row.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, row.ID, row.Up, row.T, "")
	return models.OK{ID: row.ID, Msg: "requisite removed"}, nil
}

func (s *Server) handleTList(ctx context.Context, rq *request) (any, error) {
	defs, err := s.Store.ListTypeDefs(ctx, rq.db, 0)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Name", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Type", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, d := range defs {
		// Role rows also live at the root; only type definitions belong here.
		if d.T == reqs.TypeRole {
			continue
		}
		mods := reqs.ParseModifiers(d.Val)
		rep.Data = append(rep.Data, []string{
			strconv.FormatInt(d.ID, 10),
			mods.Name,
			typeLabel(d.T),
		})
	}
	return rep, nil
}

func (s *Server) handleTReqs(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchTypeDef(ctx, rq)
	if err != nil {
		return nil, err
	}
	reqRows, err := s.Store.ListChildren(ctx, rq.db, row.ID, store.Filter{})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Name", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Type", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Alias", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "NotNull", Type: reqs.TypeBoolean, Format: string(reqs.AlignCenter)},
		{ID: 0, Name: "Multi", Type: reqs.TypeBoolean, Format: string(reqs.AlignCenter)},
	}}
	for _, rr := range reqRows {
		m := reqs.ParseModifiers(rr.Val)
		rep.Data = append(rep.Data, []string{
			strconv.FormatInt(rr.ID, 10),
			m.Name,
			typeLabel(rr.T),
			m.Alias,
			boolMark(m.NotNull),
			boolMark(m.Multi),
		})
	}
	return rep, nil
}

func (s *Server) handleDAlias(ctx context.Context, rq *request) (any, error) {
	return s.updateModifiers(ctx, rq, func(m *reqs.Modifiers) {
		m.Alias = rq.param("alias")
	})
}

func (s *Server) handleDNotNull(ctx context.Context, rq *request) (any, error) {
	return s.updateModifiers(ctx, rq, func(m *reqs.Modifiers) {
		m.NotNull = rq.param("val") != "0"
	})
}

func (s *Server) handleDMulti(ctx context.Context, rq *request) (any, error) {
	return s.updateModifiers(ctx, rq, func(m *reqs.Modifiers) {
		m.Multi = rq.param("val") != "0"
	})
}

// updateModifiers rewrites one requisite's modifier suffix, keeping the bare
// name intact.
func (s *Server) updateModifiers(ctx context.Context, rq *request, mutate func(*reqs.Modifiers)) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.Up, 0, grants.Write); err != nil {
		return nil, err
	}
	m := reqs.ParseModifiers(row.Val)
	mutate(&m)
	val := reqs.FormatModifiers(m)
	if _, err := s.Store.UpdateValue(ctx, rq.db, row.ID, val); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowUpdated, rq, row.ID, row.Up, row.T, val)
	return models.OK{ID: row.ID}, nil
}

func (s *Server) fetchTypeDef(ctx context.Context, rq *request) (*store.Row, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if row.Up != 0 {
		return nil, httpx.NotFound("type not found")
	}
	return row, nil
}

// typeLabel names a type code: base types by their fixed names, user types
// by their row id.
func typeLabel(t int64) string {
	if name := reqs.BaseTypeName(t); name != "" {
		return name
	}
	return strconv.FormatInt(t, 10)
}

func boolMark(b bool) string {
	if b {
		return "X"
	}
	return ""
}
