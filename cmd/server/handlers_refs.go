package main

import (
	"context"
	"strconv"
	"strings"

	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"
	"integram/pkg/store"
)

const refListLimit = 500

// handleRefReqs populates reference dropdowns. Each candidate object maps to
// a single display string: the main value and every requisite value joined
// with " / ", missing requisites shown as "--".
func (s *Server) handleRefReqs(ctx context.Context, rq *request) (any, error) {
	t := rq.paramInt("t")
	if t == 0 {
		t = rq.id
	}
	if t == 0 {
		return nil, httpx.Validation("t is required")
	}
	if err := s.requireLevel(ctx, rq, 0, t, grants.Read); err != nil {
		return nil, err
	}
	_, reqRows, err := s.typeColumns(ctx, rq.db, t)
	if err != nil {
		return nil, err
	}

	candidates, err := s.refCandidates(ctx, rq, t)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(candidates))
	for _, obj := range candidates {
		label, err := s.refLabel(ctx, rq.db, obj, reqRows)
		if err != nil {
			return nil, err
		}
		out[strconv.FormatInt(obj.ID, 10)] = label
	}
	return out, nil
}

// refCandidates selects the objects for the dropdown: an explicit id list
// via r, an exact id via q=@N, a substring search via q, or the first page
// of the type.
func (s *Server) refCandidates(ctx context.Context, rq *request, t int64) ([]store.Row, error) {
	if r := rq.param("r"); r != "" {
		var out []store.Row
		for _, part := range strings.Split(r, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, httpx.Validation("bad id in r list")
			}
			row, err := s.Store.GetByID(ctx, rq.db, id)
			if err != nil {
				return nil, httpx.StoreFailed(err)
			}
			if row != nil && row.T == t {
				out = append(out, *row)
			}
		}
		return out, nil
	}
	q := rq.param("q")
	if strings.HasPrefix(q, "@") {
		id, err := strconv.ParseInt(q[1:], 10, 64)
		if err != nil {
			return nil, httpx.Validation("bad id after @")
		}
		row, err := s.Store.GetByID(ctx, rq.db, id)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		if row == nil || row.T != t {
			return nil, nil
		}
		return []store.Row{*row}, nil
	}
	rows, err := s.Store.ListByType(ctx, rq.db, t, 0, refListLimit)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if q == "" {
		return rows, nil
	}
	needle := strings.ToLower(q)
	var out []store.Row
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Val), needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Server) refLabel(ctx context.Context, db string, obj store.Row, reqRows []store.Row) (string, error) {
	parts := []string{obj.Val}
	for _, rr := range reqRows {
		attr, err := s.Store.GetRequisiteByType(ctx, db, obj.ID, rr.ID)
		if err != nil {
			return "", httpx.StoreFailed(err)
		}
		if attr == nil || attr.Val == "" {
			parts = append(parts, "--")
		} else {
			parts = append(parts, attr.Val)
		}
	}
	return strings.Join(parts, " / "), nil
}

// handleRefUses lists the rows that reference an object by storing its id as
// their value.
func (s *Server) handleRefUses(ctx context.Context, rq *request) (any, error) {
	if rq.id == 0 {
		return nil, httpx.Validation("id is required")
	}
	if err := s.requireLevel(ctx, rq, rq.id, 0, grants.Read); err != nil {
		return nil, err
	}
	limit := rq.paramInt("limit")
	if limit <= 0 {
		limit = refListLimit
	}
	rows, err := s.Store.ListByValue(ctx, rq.db, strconv.FormatInt(rq.id, 10), limit)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "up", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Type", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, r := range rows {
		// Ids also occur as plain numeric values; only attribute rows whose
		// requisite is reference-typed actually point back here.
		if reqs.IsBaseType(r.T) {
			continue
		}
		rep.Data = append(rep.Data, []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.Up, 10),
			typeLabel(r.T),
		})
	}
	return rep, nil
}
