package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/teetime-scheduler/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// Users persists operator accounts for the web UI.
type Users interface {
	Create(ctx context.Context, username, passwordHash string) error
	Lookup(ctx context.Context, username string) (id int64, passwordHash string, err error)
}

// PGUsers keeps accounts in the users table.
type PGUsers struct {
	DB *db.DB
}

func (u PGUsers) Create(ctx context.Context, username, hash string) error {
	err := u.DB.Exec(ctx, `INSERT INTO users(username, password_bcrypt) VALUES ($1,$2)`, username, hash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (u PGUsers) Lookup(ctx context.Context, username string) (int64, string, error) {
	var id int64
	var hash string
	err := u.DB.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, username).Scan(&id, &hash)
	if err != nil {
		return 0, "", db.WrapNotFound(err)
	}
	return id, hash, nil
}

// MemoryUsers backs STORE=memory runs.
type MemoryUsers struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]memUser
}

type memUser struct {
	id   int64
	hash string
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byName: map[string]memUser{}}
}

func (m *MemoryUsers) Create(_ context.Context, username, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; ok {
		return ErrUserExists
	}
	m.nextID++
	m.byName[username] = memUser{id: m.nextID, hash: hash}
	return nil
}

func (m *MemoryUsers) Lookup(_ context.Context, username string) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return 0, "", db.ErrNotFound
	}
	return u.id, u.hash, nil
}

type Store struct {
	sc    *securecookie.SecureCookie
	users Users
}

type ctxKey string

const userIDKey ctxKey = "userID"

const sessionTTL = 14 * 24 * time.Hour

func NewStore(users Users, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	return &Store{sc: sc, users: users}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.Create(ctx, username, hash)
}

// Authenticate returns the user id, or ErrInvalidCredentials for an unknown user or wrong password.
func (s *Store) Authenticate(ctx context.Context, username, password string) (int64, error) {
	id, hash, err := s.users.Lookup(ctx, username)
	if db.IsNotFound(err) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, err
	}
	if !CheckPassword(hash, password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

type Session struct {
	UserID int64
}

const cookieName = "teesched_session"

type cookieValue struct {
	UID int64 `json:"uid"`
	V   int   `json:"v"`
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	encoded, err := s.sc.Encode(cookieName, cookieValue{UID: userID, V: 1})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var val cookieValue
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil || val.UID <= 0 {
		return Session{}, false
	}
	return Session{UserID: val.UID}, true
}

// RequireAuth redirects anonymous browsers to the login page.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return s.require(next, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

// RequireAPIAuth answers anonymous API calls with 401.
func (s *Store) RequireAPIAuth(next http.Handler) http.Handler {
	return s.require(next, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
	})
}

func (s *Store) require(next http.Handler, deny http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			deny(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(userIDKey).(int64)
	return uid, ok
}
