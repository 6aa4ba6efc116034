package main

import (
	"context"
	"errors"
	"net/http"

	"integram/pkg/auth"
	"integram/pkg/grants"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"
)

func (s *Server) handleLogin(ctx context.Context, rq *request) (any, error) {
	login := rq.param("login")
	pwd := rq.param("pwd")
	if login == "" || pwd == "" {
		return nil, httpx.Validation("login and pwd are required")
	}
	sess, err := s.Auth.Login(ctx, rq.db, login, pwd)
	if err != nil {
		s.Metrics.IncAuthFailure()
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, httpx.AuthFailed()
		}
		return nil, httpx.StoreFailed(err)
	}
	http.SetCookie(rq.w, auth.SessionCookie(rq.db, sess.Token))
	return models.LoginResponse{
		XSRF:  sess.XSRF,
		Token: sess.Token,
		ID:    sess.UserID,
		Msg:   "",
	}, nil
}

func (s *Server) handleLogout(ctx context.Context, rq *request) (any, error) {
	if err := s.Auth.Logout(ctx, rq.db, rq.session.Token); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	http.SetCookie(rq.w, auth.ClearSessionCookie(rq.db))
	return models.OK{Msg: "logged out"}, nil
}

func (s *Server) handleWhoAmI(ctx context.Context, rq *request) (any, error) {
	return models.WhoAmI{
		ID:   rq.session.UserID,
		User: rq.session.Username,
		Role: rq.session.RoleID,
	}, nil
}

// handlePasswd changes the caller's own password. Admins may pass an id to
// reset another user's.
func (s *Server) handlePasswd(ctx context.Context, rq *request) (any, error) {
	pwd := rq.param("pwd")
	if pwd == "" {
		return nil, httpx.Validation("pwd is required")
	}
	userID := rq.session.UserID
	username := rq.session.Username
	if rq.id != 0 && rq.id != rq.session.UserID {
		if !grants.IsAdmin(rq.session.Username) {
			return nil, httpx.Denied("only admin may reset other passwords")
		}
		target, err := s.Store.GetByID(ctx, rq.db, rq.id)
		if err != nil {
			return nil, httpx.StoreFailed(err)
		}
		if target == nil || target.T != reqs.TypeUser {
			return nil, httpx.NotFound("user not found")
		}
		userID = target.ID
		username = target.Val
	}
	if err := s.Auth.SetPassword(ctx, rq.db, userID, username, pwd); err != nil {
		return nil, httpx.StoreFailed(err)
	}
	return models.OK{ID: userID, Msg: "password changed"}, nil
}
