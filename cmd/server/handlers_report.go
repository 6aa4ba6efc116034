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

// Report definitions are root rows whose REP_COLS children each hold one
// requisite id. The referenced requisites all belong to the same type, which
// is what the report iterates over.

func (s *Server) handleRepCols(ctx context.Context, rq *request) (any, error) {
	repRow, cols, err := s.reportDef(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, repRow.ID, 0, grants.Read); err != nil {
		return nil, err
	}
	out := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "id", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Requisite", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "Name", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, c := range cols {
		reqID, _ := strconv.ParseInt(c.Val, 10, 64)
		name := ""
		if reqID != 0 {
			reqRow, err := s.Store.GetByID(ctx, rq.db, reqID)
			if err != nil {
				return nil, httpx.StoreFailed(err)
			}
			if reqRow != nil {
				name = reqs.ParseModifiers(reqRow.Val).Name
			}
		}
		out.Data = append(out.Data, []string{
			strconv.FormatInt(c.ID, 10),
			c.Val,
			name,
		})
	}
	return out, nil
}

// handleRepSet replaces a report's column list with the comma-separated
// requisite ids in cols.
func (s *Server) handleRepSet(ctx context.Context, rq *request) (any, error) {
	repRow, _, err := s.reportDef(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, repRow.ID, 0, grants.Write); err != nil {
		return nil, err
	}
	raw := rq.param("cols")
	if raw == "" {
		return nil, httpx.Validation("cols is required")
	}
	var reqIDs []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, httpx.Validation("cols must be a comma list of requisite ids")
		}
		reqIDs = append(reqIDs, id)
	}
	if _, err := s.Store.DeleteChildren(ctx, rq.db, repRow.ID); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	for i, reqID := range reqIDs {
		_, err := s.Store.Insert(ctx, rq.db, repRow.ID, int64(i+1), reqs.TypeRepCols, strconv.FormatInt(reqID, 10))
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
	}
	return models.OK{ID: repRow.ID, Msg: strconv.Itoa(len(reqIDs)) + " columns set"}, nil
}

// handleReport runs a report: one row per object of the columns' shared
// type, values display-encoded by the response shaper.
func (s *Server) handleReport(ctx context.Context, rq *request) (any, error) {
	repRow, colDefs, err := s.reportDef(ctx, rq)
	if err != nil {
		return nil, err
	}
	if err := s.requireLevel(ctx, rq, repRow.ID, 0, grants.Read); err != nil {
		return nil, err
	}
	if len(colDefs) == 0 {
		return nil, httpx.Validation("report has no columns")
	}

	var reqRows []store.Row
	for _, c := range colDefs {
		reqID, err := strconv.ParseInt(c.Val, 10, 64)
		if err != nil || reqID <= 0 {
			continue
		}
		reqRow, err := s.Store.GetByID(ctx, rq.db, reqID)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		if reqRow != nil {
			reqRows = append(reqRows, *reqRow)
		}
	}
	if len(reqRows) == 0 {
		return nil, httpx.Validation("report columns reference no requisites")
	}
	typeID := reqRows[0].Up
	if err := s.requireLevel(ctx, rq, 0, typeID, grants.Read); err != nil {
		return nil, err
	}

	out := &models.Report{Columns: []models.Column{
		{ID: typeID, Name: "Value", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, rr := range reqRows {
		m := reqs.ParseModifiers(rr.Val)
		out.Columns = append(out.Columns, models.Column{
			ID:     rr.ID,
			Name:   m.Name,
			Type:   rr.T,
			Format: string(reqs.Alignment(rr.T)),
		})
	}

	limit := rq.paramInt("limit")
	if limit <= 0 {
		limit = 1000
	}
	objects, err := s.Store.ListByType(ctx, rq.db, typeID, rq.paramInt("after"), limit)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	for _, obj := range objects {
		vals := []string{obj.Val}
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
		out.Data = append(out.Data, vals)
	}
	return out, nil
}

// reportDef loads a report row and its REP_COLS children in ord order.
func (s *Server) reportDef(ctx context.Context, rq *request) (*store.Row, []store.Row, error) {
	row, err := s.fetchRow(ctx, rq)
	if err != nil {
		return nil, nil, err
	}
	cols, err := s.Store.ListChildren(ctx, rq.db, row.ID, store.Filter{Type: reqs.TypeRepCols})
	if err != nil {
		return nil, nil, httpx.StoreFailed(err)
	}
	return row, cols, nil
}
