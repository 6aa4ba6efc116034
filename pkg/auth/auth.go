package auth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"integram/pkg/reqs"
	"integram/pkg/store"
)

// ErrInvalidCredentials is the only error a failed login surfaces. Wrong
// user, wrong password and missing database all collapse into it so the
// caller learns nothing about which check failed.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInvalidToken is returned for unknown or expired session tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Store is the slice of the EAV accessor the engine uses.
type Store interface {
	FindByTypeValue(ctx context.Context, table string, t int64, val string) (*store.Row, error)
	GetRequisiteByType(ctx context.Context, table string, up, t int64) (*store.Row, error)
	GetByID(ctx context.Context, table string, id int64) (*store.Row, error)
	Insert(ctx context.Context, table string, up, ord, t int64, val string) (int64, error)
	UpdateValue(ctx context.Context, table string, id int64, val string) (bool, error)
	Delete(ctx context.Context, table string, id int64) (bool, error)
	NextOrder(ctx context.Context, table string, up int64) (int64, error)
}

// Engine implements the legacy credential scheme byte-for-byte.
type Engine struct {
	Store      Store
	Salt       string // deployment secret mixed into every hash
	AdminHash  string // secret behind the admin override
	ServerName string
}

// Session is the authenticated state for one (user, database) pair.
type Session struct {
	UserID   int64
	Username string
	RoleID   int64
	Token    string
	XSRF     string
}

func sha1hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PasswordHash is SHA1(salt + UPPER(username) + db + password), one round.
func (e *Engine) PasswordHash(username, db, password string) string {
	return sha1hex(e.Salt + strings.ToUpper(username) + db + password)
}

// XSRFLen is the truncation length of the derived anti-forgery token.
const XSRFLen = 22

// XSRF derives the anti-forgery value from the session token. The database
// name is concatenated twice; the asymmetry is part of the wire contract.
func (e *Engine) XSRF(token, db string) string {
	return sha1hex(e.Salt+strings.ToUpper(token)+db+db)[:XSRFLen]
}

// NewToken mints an opaque session token. Collisions are accepted at the
// timestamp+random probability the legacy scheme had.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// Login validates credentials and issues a session. Every failure path
// returns ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, db, username, password string) (*Session, error) {
	user, err := e.Store.FindByTypeValue(ctx, db, reqs.TypeUser, username)
	if err != nil {
		return nil, err
	}
	if user != nil {
		stored, err := e.Store.GetRequisiteByType(ctx, db, user.ID, reqs.TypePassword)
		if err != nil {
			return nil, err
		}
		if stored != nil && stored.Val == e.PasswordHash(username, db, password) {
			return e.issueSession(ctx, db, user)
		}
	}
	if strings.EqualFold(username, "admin") && e.adminOverride(db, password) {
		return e.adminSession(db, user), nil
	}
	return nil, ErrInvalidCredentials
}

// adminOverride: SHA1(SHA1(server+db+password)+db) == SHA1(adminHash+db).
func (e *Engine) adminOverride(db, password string) bool {
	if e.AdminHash == "" {
		return false
	}
	return sha1hex(sha1hex(e.ServerName+db+password)+db) == sha1hex(e.AdminHash+db)
}

// adminSession derives a deterministic token from the admin secret instead of
// issuing a random one; concurrent admin logins share it by construction and
// nothing is persisted.
func (e *Engine) adminSession(db string, user *store.Row) *Session {
	token := sha1hex(e.AdminHash + db + "token")
	s := &Session{Username: "admin", Token: token, XSRF: e.XSRF(token, db)}
	if user != nil {
		s.UserID = user.ID
	}
	return s
}

func (e *Engine) issueSession(ctx context.Context, db string, user *store.Row) (*Session, error) {
	token := NewToken()
	ord, err := e.Store.NextOrder(ctx, db, user.ID)
	if err != nil {
		return nil, err
	}
	tokenID, err := e.Store.Insert(ctx, db, user.ID, ord, reqs.TypeToken, token)
	if err != nil {
		return nil, err
	}
	xsrf := e.XSRF(token, db)
	if _, err := e.Store.Insert(ctx, db, tokenID, 1, reqs.TypeXSRF, xsrf); err != nil {
		return nil, err
	}
	roleID, err := e.roleOf(ctx, db, user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: user.ID, Username: user.Val, RoleID: roleID, Token: token, XSRF: xsrf}, nil
}

func (e *Engine) roleOf(ctx context.Context, db string, userID int64) (int64, error) {
	role, err := e.Store.GetRequisiteByType(ctx, db, userID, reqs.TypeRole)
	if err != nil || role == nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(role.Val), 10, 64)
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// UserByToken maps a presented token back to a session. The XSRF value is
// recomputed from the token on every call; the stored XSRF row is only a
// mirror and is rewritten whenever it drifts.
func (e *Engine) UserByToken(ctx context.Context, db, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if e.AdminHash != "" && token == sha1hex(e.AdminHash+db+"token") {
		return e.adminSession(db, nil), nil
	}
	tokenRow, err := e.Store.FindByTypeValue(ctx, db, reqs.TypeToken, token)
	if err != nil {
		return nil, err
	}
	if tokenRow == nil || tokenRow.Val != token {
		return nil, ErrInvalidToken
	}
	user, err := e.Store.GetByID(ctx, db, tokenRow.Up)
	if err != nil {
		return nil, err
	}
	if user == nil || user.T != reqs.TypeUser {
		return nil, ErrInvalidToken
	}
	xsrf := e.XSRF(token, db)
	if err := e.syncXSRF(ctx, db, tokenRow.ID, xsrf); err != nil {
		return nil, err
	}
	roleID, err := e.roleOf(ctx, db, user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: user.ID, Username: user.Val, RoleID: roleID, Token: token, XSRF: xsrf}, nil
}

func (e *Engine) syncXSRF(ctx context.Context, db string, tokenRowID int64, xsrf string) error {
	stored, err := e.Store.GetRequisiteByType(ctx, db, tokenRowID, reqs.TypeXSRF)
	if err != nil {
		return err
	}
	if stored == nil {
		_, err := e.Store.Insert(ctx, db, tokenRowID, 1, reqs.TypeXSRF, xsrf)
		return err
	}
	if stored.Val != xsrf {
		_, err := e.Store.UpdateValue(ctx, db, stored.ID, xsrf)
		return err
	}
	return nil
}

// Logout removes the TOKEN row carrying the presented token. The derived
// admin token is not stored, so admin logout is a no-op server-side.
func (e *Engine) Logout(ctx context.Context, db, token string) error {
	tokenRow, err := e.Store.FindByTypeValue(ctx, db, reqs.TypeToken, token)
	if err != nil {
		return err
	}
	if tokenRow == nil {
		return nil
	}
	if _, err := e.Store.Delete(ctx, db, tokenRow.ID); err != nil {
		return err
	}
	// Drop the mirrored XSRF rows under the token.
	if xsrf, err := e.Store.GetRequisiteByType(ctx, db, tokenRow.ID, reqs.TypeXSRF); err == nil && xsrf != nil {
		_, _ = e.Store.Delete(ctx, db, xsrf.ID)
	}
	return nil
}

// SetPassword stores the hash for a user, creating the PASSWORD child row
// when missing.
func (e *Engine) SetPassword(ctx context.Context, db string, userID int64, username, password string) error {
	hash := e.PasswordHash(username, db, password)
	stored, err := e.Store.GetRequisiteByType(ctx, db, userID, reqs.TypePassword)
	if err != nil {
		return err
	}
	if stored == nil {
		_, err := e.Store.Insert(ctx, db, userID, 1, reqs.TypePassword, hash)
		return err
	}
	if _, err := e.Store.UpdateValue(ctx, db, stored.ID, hash); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	return nil
}
