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

// decodeForType normalizes a user-supplied value for storage. Only base
// types carry codec behavior; values of user-defined types store raw.
func decodeForType(t int64, raw string, tz int64) string {
	if reqs.IsBaseType(t) {
		return reqs.Decode(t, raw, tz)
	}
	return raw
}

func (s *Server) handleDNew(ctx context.Context, rq *request) (any, error) {
	up := rq.paramInt("up")
	t := rq.paramInt("t")
	if up == 0 {
		up = 1
	}
	if t == 0 {
		return nil, httpx.Validation("t is required")
	}
	if err := s.requireLevel(ctx, rq, up, t, grants.Write); err != nil {
		return nil, err
	}
	val := decodeForType(t, rq.form.Get("val"), rq.tz)
	ord, err := s.Store.NextOrderOfType(ctx, rq.db, up, t)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	id, err := s.Store.Insert(ctx, rq.db, up, ord, t, val)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rq.id = id
	s.publishRow(stream.EventRowCreated, rq, id, up, t, val)
	return models.OK{ID: id}, nil
}

func (s *Server) handleDEdit(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	val := decodeForType(row.T, rq.form.Get("val"), rq.tz)
	if _, err := s.Store.UpdateValue(ctx, rq.db, row.ID, val); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowUpdated, rq, row.ID, row.Up, row.T, val)
	return models.OK{ID: row.ID}, nil
}

func (s *Server) handleDDel(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	// A non-empty deletable list narrows deletion to the listed types.
	if rq.session.RoleID != 0 && !grants.IsAdmin(rq.session.Username) &&
		len(rq.grants.Delete) > 0 && !rq.grants.Delete[row.T] {
		return nil, httpx.Denied("type is not deletable for this role")
	}
	if _, err := s.Store.DeleteChildren(ctx, rq.db, row.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.Delete(ctx, rq.db, row.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, row.ID, row.Up, row.T, "")
	return models.OK{ID: row.ID, Msg: "deleted"}, nil
}

// handleDCopy duplicates an object and its direct attribute children. The
// copies are sequential inserts with no transaction, so a failure mid-way
// leaves a partial copy in place.
func (s *Server) handleDCopy(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.Up, row.T, grants.Write); err != nil {
		return nil, err
	}
	ord, err := s.Store.NextOrderOfType(ctx, rq.db, row.Up, row.T)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	newID, err := s.Store.Insert(ctx, rq.db, row.Up, ord, row.T, row.Val)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	children, err := s.Store.ListChildren(ctx, rq.db, row.ID, store.Filter{})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	for _, c := range children {
		if _, err := s.Store.Insert(ctx, rq.db, newID, c.Ord, c.T, c.Val); err != nil {
			return nil, httpx.StoreFailed(err)
		}
	}
	s.publishRow(stream.EventRowCreated, rq, newID, row.Up, row.T, row.Val)
	return models.OK{ID: newID, Msg: "copied"}, nil
}

// handleDUp swaps ord with the previous sibling. Two sequential updates;
// duplicate ords after a crash are tolerated because ord is advisory.
func (s *Server) handleDUp(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	siblings, err := s.Store.ListChildren(ctx, rq.db, row.Up, store.Filter{Type: row.T})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	var prev *store.Row
	for i := range siblings {
		if siblings[i].ID == row.ID {
			continue
		}
		if siblings[i].Ord < row.Ord && (prev == nil || siblings[i].Ord > prev.Ord) {
			prev = &siblings[i]
		}
	}
	if prev == nil {
		return models.OK{ID: row.ID, Msg: "already first"}, nil
	}
	if _, err := s.Store.UpdateOrd(ctx, rq.db, row.ID, prev.Ord); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.UpdateOrd(ctx, rq.db, prev.ID, row.Ord); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowUpdated, rq, row.ID, row.Up, row.T, row.Val)
	return models.OK{ID: row.ID, Msg: "moved up"}, nil
}

func (s *Server) handleDOrder(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	ord := rq.paramInt("ord")
	if ord <= 0 {
		return nil, httpx.Validation("ord must be positive")
	}
	if _, err := s.Store.UpdateOrd(ctx, rq.db, row.ID, ord); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	return models.OK{ID: row.ID}, nil
}

func (s *Server) handleDMove(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	newUp := rq.paramInt("up")
	if newUp == 0 {
		return nil, httpx.Validation("up is required")
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, newUp, 0, grants.Write); err != nil {
		return nil, err
	}
	ord, err := s.Store.NextOrderOfType(ctx, rq.db, newUp, row.T)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.UpdateUp(ctx, rq.db, row.ID, newUp); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if _, err := s.Store.UpdateOrd(ctx, rq.db, row.ID, ord); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowUpdated, rq, row.ID, newUp, row.T, row.Val)
	return models.OK{ID: row.ID, Msg: "moved"}, nil
}

func (s *Server) handleDType(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	t := rq.paramInt("t")
	if t == 0 {
		return nil, httpx.Validation("t is required")
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Write); err != nil {
		return nil, err
	}
	if _, err := s.Store.UpdateType(ctx, rq.db, row.ID, t); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowUpdated, rq, row.ID, row.Up, t, row.Val)
	return models.OK{ID: row.ID}, nil
}

// handleDGet returns one object as a single-row report: main value first,
// then every requisite of its type in declaration order.
func (s *Server) handleDGet(ctx context.Context, rq *request) (any, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, row.ID, row.T, grants.Read); err != nil {
		return nil, err
	}
	cols, reqRows, err := s.typeColumns(ctx, rq.db, row.T)
	if err != nil {
		return nil, err
	}
	vals := []string{row.Val}
	for _, rr := range reqRows {
		attr, err := s.Store.GetRequisiteByType(ctx, rq.db, row.ID, rr.ID)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		if attr == nil {
			vals = append(vals, "")
		} else {
			vals = append(vals, attr.Val)
		}
	}
	return &models.Report{Columns: cols, Data: [][]string{vals}}, nil
}

func (s *Server) handleDList(ctx context.Context, rq *request) (any, error) {
	t := rq.paramInt("t")
	up := rq.paramInt("up")
	if up == 0 {
		up = 1
	}
	if err := s.requireLevel(ctx, rq, up, t, grants.Read); err != nil {
		return nil, err
	}
	f := store.Filter{
		Type:   t,
		Search: rq.param("q"),
		Limit:  rq.paramInt("limit"),
		Offset: rq.paramInt("offset"),
	}
	objects, err := s.Store.ListChildren(ctx, rq.db, up, f)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	cols := []models.Column{{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)}}
	var reqRows []store.Row
	if t != 0 {
		typeCols, rr, err := s.typeColumns(ctx, rq.db, t)
		if err != nil {
			return nil, err
		}
		cols = append(cols, typeCols...)
		reqRows = rr
	} else {
		cols = append(cols, models.Column{ID: 0, Name: "Value", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)})
	}
	rep := &models.Report{Columns: cols}
	for _, obj := range objects {
		vals := []string{strconv.FormatInt(obj.ID, 10), obj.Val}
		for _, rr := range reqRows {
			attr, err := s.Store.GetRequisiteByType(ctx, rq.db, obj.ID, rr.ID)
			if err != nil {
				return nil, httpx.StoreFailed(err)
			}
			if attr == nil {
				vals = append(vals, "")
			} else {
				vals = append(vals, attr.Val)
			}
		}
		rep.Data = append(rep.Data, vals)
	}
	return rep, nil
}

func (s *Server) handleDFind(ctx context.Context, rq *request) (any, error) {
	t := rq.paramInt("t")
	val := rq.param("val")
	if t == 0 || val == "" {
		return nil, httpx.Validation("t and val are required")
	}
	if err := s.requireLevel(ctx, rq, 0, t, grants.Read); err != nil {
		return nil, err
	}
	row, err := s.Store.FindByTypeValue(ctx, rq.db, t, val)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if row == nil {
		return nil, httpx.NotFound("no match")
	}
	return models.OK{ID: row.ID, Msg: row.Val}, nil
}

func (s *Server) handleDCount(ctx context.Context, rq *request) (any, error) {
	up := rq.paramInt("up")
	if up == 0 {
		up = 1
	}
	if err := s.requireLevel(ctx, rq, up, 0, grants.Read); err != nil {
		return nil, err
	}
	n, err := s.Store.CountChildren(ctx, rq.db, up, store.Filter{
		Type:   rq.paramInt("t"),
		Search: rq.param("q"),
	})
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	return map[string]int64{"count": n}, nil
}

func (s *Server) handleDClear(ctx context.Context, rq *request) (any, error) {
	up := rq.paramInt("up")
	if up == 0 {
		up = rq.id
	}
	if up == 0 {
		return nil, httpx.Validation("up is required")
	}
	if err := s.requireLevel(ctx, rq, up, 0, grants.Write); err != nil {
		return nil, err
	}
	n, err := s.Store.DeleteChildren(ctx, rq.db, up)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.publishRow(stream.EventRowDeleted, rq, up, 0, 0, "")
	return models.OK{ID: up, Msg: strconv.FormatInt(n, 10) + " rows removed"}, nil
}

// handleDVals lists the stored values of one requisite across all objects,
// paged by afterID.
func (s *Server) handleDVals(ctx context.Context, rq *request) (any, error) {
	reqID := rq.paramInt("t")
	if reqID == 0 {
		reqID = rq.id
	}
	if reqID == 0 {
		return nil, httpx.Validation("t is required")
	}
	if err := s.requireLevel(ctx, rq, 0, reqID, grants.Read); err != nil {
		return nil, err
	}
	limit := rq.paramInt("limit")
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.Store.ListByType(ctx, rq.db, reqID, rq.paramInt("after"), limit)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: reqID, Name: "Value", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, r := range rows {
		rep.Data = append(rep.Data, []string{strconv.FormatInt(r.ID, 10), r.Val})
	}
	return rep, nil
}

// fetchRow resolves the addressed object or fails with the right kind.
func (s *Server) fetchRow(ctx context.Context, rq *request) (*store.Row, error) {
	if rq.id == 0 {
		return nil, httpx.Validation("id is required")
	}
	row, err := s.Store.GetByID(ctx, rq.db, rq.id)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if row == nil {
		return nil, httpx.NotFound("object not found")
	}
	return row, nil
}

// typeColumns builds report columns for a type: the type's own name first,
// then one column per requisite with modifiers stripped from the display
// name. Base types yield a single column.
func (s *Server) typeColumns(ctx context.Context, db string, t int64) ([]models.Column, []store.Row, error) {
	if reqs.IsBaseType(t) {
		return []models.Column{{ID: t, Name: reqs.BaseTypeName(t), Type: t, Format: string(reqs.Alignment(t))}}, nil, nil
	}
	typeRow, err := s.Store.GetByID(ctx, db, t)
	if err != nil {
		return nil, nil, httpx.StoreFailed(err)
	}
	if typeRow == nil {
		return nil, nil, httpx.NotFound("type not found")
	}
	mods := reqs.ParseModifiers(typeRow.Val)
	cols := []models.Column{{ID: typeRow.ID, Name: mods.Name, Type: reqs.TypeChars, Format: string(reqs.AlignLeft)}}
	reqRows, err := s.Store.ListChildren(ctx, db, typeRow.ID, store.Filter{})
	if err != nil {
		return nil, nil, httpx.StoreFailed(err)
	}
	for _, rr := range reqRows {
		m := reqs.ParseModifiers(rr.Val)
		cols = append(cols, models.Column{
			ID:     rr.ID,
			Name:   m.Name,
			Type:   rr.T,
			Format: string(reqs.Alignment(rr.T)),
		})
	}
	return cols, reqRows, nil
}
