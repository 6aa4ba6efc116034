package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"integram/pkg/dump"
	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"
	"integram/pkg/store"
	"integram/pkg/stream"
)

const dumpPageSize = 500000

// handleDump streams the whole table as a .dmp attachment, paged so a large
// table never materializes in memory.
func (s *Server) handleDump(ctx context.Context, rq *request) (any, error) {
	if err := s.requireLevel(ctx, rq, reqs.TypeRoot, 0, grants.Read); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%d.dmp", rq.db, time.Now().Unix())
	rq.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rq.w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	enc := dump.NewEncoder(rq.w)
	var afterID, total int64
	for {
		rows, err := s.Store.PageRows(ctx, rq.db, afterID, dumpPageSize)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		for _, r := range rows {
			rec := dump.Record{ID: r.ID, Up: r.Up, Ord: r.Ord, T: r.T, Val: r.Val}
			if err := enc.Write(rec); err != nil {
				return nil, httpx.StoreFailed(err)
			}
			afterID = r.ID
			total++
		}
		if int64(len(rows)) < dumpPageSize {
			break
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	s.Metrics.AddDumpRows(total)
	return nil, nil
}

// handleRestore replaces the table with the uploaded or fetched dump. The
// table is truncated first, so this is admin-only and guarded by a
// cross-process lock.
func (s *Server) handleRestore(ctx context.Context, rq *request) (any, error) {
	if !grants.IsAdmin(rq.session.Username) {
		return nil, httpx.Denied("restore requires admin")
	}
	data, err := s.restoreSource(ctx, rq)
	if err != nil {
		return nil, err
	}

	acquired, err := store.AcquireRestoreLock(ctx, s.Cache, rq.db)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if !acquired {
		return nil, httpx.Validation("restore already in progress")
	}
	defer func() { _ = store.ReleaseRestoreLock(context.Background(), s.Cache, rq.db) }()

	if err := s.Store.CreateTable(ctx, rq.db); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	if err := s.Store.Truncate(ctx, rq.db); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	dec := dump.NewDecoder(bytes.NewReader(data))
	var total int64
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, httpx.Validation("bad dump line: " + err.Error())
		}
		row := store.Row{ID: rec.ID, Up: rec.Up, Ord: rec.Ord, T: rec.T, Val: rec.Val}
		if err := s.Store.InsertWithID(ctx, rq.db, row); err != nil {
			return nil, httpx.StoreFailed(err)
		}
		total++
	}
	s.Metrics.AddRestoreRows(total)
	if s.Events != nil {
		s.Events.Publish(stream.NewEvent(stream.EventRestored, map[string]any{
			"db":   rq.db,
			"rows": total,
		}))
	}
	return models.OK{Msg: fmt.Sprintf("%d rows restored", total)}, nil
}

// restoreSource reads the dump body from the url parameter, an uploaded
// file, or the data form field, in that order.
func (s *Server) restoreSource(ctx context.Context, rq *request) ([]byte, error) {
	if u := rq.param("url"); u != "" {
		data, err := httpx.FetchDump(ctx, s.HTTPClient, u, s.DumpFetchMaxBytes, 2, time.Second)
		if err != nil {
			return nil, httpx.Validation("fetch dump: " + err.Error())
		}
		return data, nil
	}
	if rq.r.MultipartForm != nil {
		if f, _, err := rq.r.FormFile("file"); err == nil {
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, s.DumpFetchMaxBytes))
			if err != nil {
				return nil, httpx.Validation("read upload: " + err.Error())
			}
			return data, nil
		}
	}
	if raw := rq.form.Get("data"); raw != "" {
		return []byte(raw), nil
	}
	return nil, httpx.Validation("url, file or data is required")
}

// handleCSV exports one type, or every type, as the semicolon CSV format.
// Roles with a non-empty export list are confined to the listed types.
func (s *Server) handleCSV(ctx context.Context, rq *request) (any, error) {
	typeID := rq.paramInt("t")
	if typeID == 0 {
		typeID = rq.id
	}
	if rq.session.RoleID != 0 && !grants.IsAdmin(rq.session.Username) && len(rq.grants.Export) > 0 {
		if typeID == 0 || !rq.grants.Export[typeID] {
			return nil, httpx.Denied("type is not exportable for this role")
		}
	}
	if typeID != 0 {
		if err := s.requireLevel(ctx, rq, 0, typeID, grants.Read); err != nil {
			return nil, err
		}
	} else if err := s.requireLevel(ctx, rq, reqs.TypeRoot, 0, grants.Read); err != nil {
		return nil, err
	}
	name := dump.CSVFileName(rq.db, typeID, time.Now())
	rq.w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	rq.w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := dump.WriteCSV(ctx, s.Store, rq.w, rq.db, typeID, s.CSVPageSize); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	return nil, nil
}
