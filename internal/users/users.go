package users

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	anonymousPrefix   = "anonymous_"
	anonymousDigits   = 1_000_000
	minPasswordLength = 3
)

// Directory holds registered users and the anonymous names currently in use.
type Directory struct {
	mu        sync.RWMutex
	users     map[string]*types.User
	anonymous map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		users:     make(map[string]*types.User),
		anonymous: make(map[string]struct{}),
	}
}

func validateUsername(username string) error {
	if username == "" || strings.HasPrefix(username, types.CommandPrefix) {
		return types.ErrUsernameUnacceptable
	}
	return nil
}

func (d *Directory) Register(username, password string) (*types.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	if len(password) < minPasswordLength {
		return nil, types.ErrWeakPassword
	}

	// hash outside the lock, bcrypt is slow
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; ok {
		return nil, types.ErrUsernameAlreadyInUse
	}

	u := &types.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	d.users[username] = u

	return u, nil
}

func (d *Directory) Login(username, password string) bool {
	d.mu.RLock()
	u, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		return false
	}

	return auth.VerifyPassword(u.PasswordHash, password)
}

func (d *Directory) Logout(username string) bool {
	return d.Exists(username)
}

func (d *Directory) Exists(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.users[username]
	return ok
}

func (d *Directory) GetUser(username string) (*types.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[username]
	if !ok {
		return nil, types.ErrNoRegisteredUserFound
	}

	return u, nil
}

// AnonymousName returns a fresh anonymous_<digits> name that collides with
// no registered user and no anonymous name still in use.
func (d *Directory) AnonymousName() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		name := anonymousPrefix + strconv.Itoa(rand.IntN(anonymousDigits))
		if _, ok := d.users[name]; ok {
			continue
		}
		if _, ok := d.anonymous[name]; ok {
			continue
		}

		d.anonymous[name] = struct{}{}
		return name
	}
}

func (d *Directory) ReleaseAnonymousName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.anonymous, name)
}

// Dump returns a copy of every registered user ordered by username.
func (d *Directory) Dump() []types.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })

	return out
}

// Load replaces the directory contents. Records with an invalid username
// or no password hash are skipped and reported.
func (d *Directory) Load(records []types.User) (skipped []string) {
	users := make(map[string]*types.User, len(records))
	for _, rec := range records {
		if validateUsername(rec.Username) != nil || rec.PasswordHash == "" {
			skipped = append(skipped, rec.Username)
			continue
		}
		u := rec
		users[u.Username] = &u
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = users

	return skipped
}
