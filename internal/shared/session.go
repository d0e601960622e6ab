package shared

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "alcaldia:session:"
	userField        = "uid"
	valuePrefix      = "v:"
)

// SessionManager attaches Redis-backed cookie sessions to requests. Sessions are
// created at login by the identity service; each one is a hash holding the user id
// and string values such as the CSRF token. Expiry slides on every request.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session is the per-request view of a stored session.
type Session struct {
	ID        string
	values    map[string]string
	userID    string
	isNew     bool
	dirty     bool
	destroyed bool
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session named by the request cookie. Missing, malformed or expired
// sessions yield a new anonymous session that is stored only if it is modified.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return sm.newSession(), nil
	}

	fields, err := sm.client.HGetAll(ctx, sm.redisKey(cookie.Value)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return sm.newSession(), nil
	}
	sess := &Session{ID: cookie.Value, values: make(map[string]string, len(fields))}
	for field, value := range fields {
		switch {
		case field == userField:
			sess.userID = value
		case strings.HasPrefix(field, valuePrefix):
			sess.values[strings.TrimPrefix(field, valuePrefix)] = value
		}
	}
	return sess, nil
}

// Commit stores changes and writes the cookie. Unchanged stored sessions only have
// their expiry extended.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	switch {
	case sess.destroyed:
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil {
			return err
		}
		sm.writeCookie(w, "", -1)
		return nil
	case sess.dirty:
		if err := sm.save(ctx, sess); err != nil {
			return err
		}
		sm.writeCookie(w, sess.ID, int(sm.ttl.Seconds()))
		return nil
	case !sess.isNew:
		return sm.client.Expire(ctx, sm.redisKey(sess.ID), sm.ttl).Err()
	default:
		return nil
	}
}

// Start stores a new session for userID. It is used by login flows and tests.
func (sm *SessionManager) Start(ctx context.Context, userID string) (*Session, error) {
	sess := sm.newSession()
	sess.SetUser(userID)
	if err := sm.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// CookieName returns the session cookie name.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) save(ctx context.Context, sess *Session) error {
	key := sm.redisKey(sess.ID)
	fields := make(map[string]any, len(sess.values)+1)
	if sess.userID != "" {
		fields[userField] = sess.userID
	}
	for k, v := range sess.values {
		fields[valuePrefix+k] = v
	}
	_, err := sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, sm.ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sess.dirty = false
	sess.isNew = false
	return nil
}

func (sm *SessionManager) writeCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (sm *SessionManager) newSession() *Session {
	return &Session{ID: uuid.NewString(), values: make(map[string]string), isNew: true}
}

func (sm *SessionManager) redisKey(id string) string {
	return sessionKeyPrefix + id
}

// IsNew reports whether the session has never been stored.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Set stores a value.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get returns a value or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// SetUser binds the session to a user id.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the bound user id, or "" for anonymous sessions.
func (s *Session) User() string {
	return s.userID
}
