package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/payrollportal/internal/util"
	"github.com/jmcleod/payrollportal/session"
	"github.com/jmcleod/payrollportal/storage"
)

// UsersNamespace is the storage namespace holding account records.
const UsersNamespace = "__users"

const saltLen = 16

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("role must be \"admin\" or \"user\"")
)

// userRecord is the persisted form of an account.
type userRecord struct {
	Username     string              `json:"username"`
	Email        string              `json:"email"`
	Role         string              `json:"role"`
	PasswordHash string              `json:"password_hash"`
	Salt         string              `json:"salt"`
	Params       util.Argon2idParams `json:"params"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (u userRecord) user() session.User {
	return session.User{Username: u.Username, Email: u.Email, Role: u.Role}
}

// NewAccount describes an account to create.
type NewAccount struct {
	Username string
	Password string
	Email    string
	Role     string
}

// UserRepository stores accounts in a storage.Repository with Argon2id
// password hashes.
type UserRepository struct {
	repo   storage.Repository
	params util.Argon2idParams
	// createMu makes the exists-check and write in Create atomic.
	createMu sync.Mutex
	// dummy is verified against when a username is unknown so a miss costs
	// the same as a wrong password.
	dummy userRecord
}

// NewUserRepository returns a UserRepository hashing new passwords with params.
func NewUserRepository(repo storage.Repository, params util.Argon2idParams) (*UserRepository, error) {
	if repo == nil {
		return nil, errors.New("user repository: storage is required")
	}
	if err := util.ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	ur := &UserRepository{repo: repo, params: params}
	dummy, err := ur.newRecord(NewAccount{Username: "dummy", Password: "dummy", Role: session.RoleUser})
	if err != nil {
		return nil, err
	}
	ur.dummy = dummy
	return ur, nil
}

func (ur *UserRepository) newRecord(acct NewAccount) (userRecord, error) {
	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return userRecord{}, err
	}
	hash, err := util.DeriveArgon2idKey(acct.Password, salt, ur.params)
	if err != nil {
		return userRecord{}, err
	}
	return userRecord{
		Username:     acct.Username,
		Email:        acct.Email,
		Role:         acct.Role,
		PasswordHash: util.HexEncode(hash),
		Salt:         util.HexEncode(salt),
		Params:       ur.params,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Create stores a new account. The role defaults to "user".
func (ur *UserRepository) Create(ctx context.Context, acct NewAccount) (session.User, error) {
	acct.Username = util.NormalizeUsername(acct.Username)
	acct.Email = strings.TrimSpace(acct.Email)
	if acct.Role == "" {
		acct.Role = session.RoleUser
	}
	if acct.Role != session.RoleUser && acct.Role != session.RoleAdmin {
		return session.User{}, ErrInvalidRole
	}

	ur.createMu.Lock()
	defer ur.createMu.Unlock()

	if _, err := ur.get(ctx, acct.Username); err == nil {
		return session.User{}, ErrUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return session.User{}, err
	}

	rec, err := ur.newRecord(acct)
	if err != nil {
		return session.User{}, fmt.Errorf("hashing password: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return session.User{}, err
	}
	if err := ur.repo.Set(ctx, UsersNamespace, acct.Username, string(data)); err != nil {
		return session.User{}, fmt.Errorf("storing user: %w", err)
	}
	return rec.user(), nil
}

// Authenticate returns the user when password matches. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (ur *UserRepository) Authenticate(ctx context.Context, username, password string) (session.User, error) {
	rec, err := ur.get(ctx, util.NormalizeUsername(username))
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidKey) {
		return session.User{}, err
	}
	if !found {
		rec = ur.dummy
	}

	salt, err := util.HexDecode(rec.Salt)
	if err != nil {
		return session.User{}, fmt.Errorf("decoding salt for %s: %w", rec.Username, err)
	}
	hash, err := util.HexDecode(rec.PasswordHash)
	if err != nil {
		return session.User{}, fmt.Errorf("decoding hash for %s: %w", rec.Username, err)
	}
	ok, err := util.CompareArgon2idKey(password, salt, rec.Params, hash)
	if err != nil {
		return session.User{}, err
	}
	if !found || !ok {
		return session.User{}, ErrInvalidCredentials
	}
	return rec.user(), nil
}

// Get returns the account for username.
func (ur *UserRepository) Get(ctx context.Context, username string) (session.User, error) {
	rec, err := ur.get(ctx, util.NormalizeUsername(username))
	if err != nil {
		return session.User{}, err
	}
	return rec.user(), nil
}

// List returns every account ordered by username.
func (ur *UserRepository) List(ctx context.Context) ([]session.User, error) {
	names, err := ur.repo.List(ctx, UsersNamespace)
	if err != nil {
		return nil, err
	}
	users := make([]session.User, 0, len(names))
	for _, name := range names {
		rec, err := ur.get(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, rec.user())
	}
	return users, nil
}

// SeedDemoUsers creates the admin and demo accounts when they are missing.
func (ur *UserRepository) SeedDemoUsers(ctx context.Context) error {
	demo := []NewAccount{
		{Username: "admin", Password: "password123", Email: "admin@jnfpayroll.com", Role: session.RoleAdmin},
		{Username: "demo", Password: "demo123", Email: "demo@jnfpayroll.com", Role: session.RoleUser},
	}
	for _, acct := range demo {
		if _, err := ur.Create(ctx, acct); err != nil && !errors.Is(err, ErrUserExists) {
			return fmt.Errorf("%s: %w", acct.Username, err)
		}
	}
	return nil
}

func (ur *UserRepository) get(ctx context.Context, username string) (userRecord, error) {
	data, err := ur.repo.Get(ctx, UsersNamespace, username)
	if err != nil {
		return userRecord{}, err
	}
	var rec userRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return userRecord{}, fmt.Errorf("decoding user %s: %w", username, err)
	}
	return rec, nil
}
