package users

import (
	"strings"
	"testing"

	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	tcases := []struct {
		name     string
		username string
		password string
		err      error
	}{
		{"valid user", "alice", "secret", nil},
		{"command prefix", "/alice", "secret", types.ErrUsernameUnacceptable},
		{"empty username", "", "secret", types.ErrUsernameUnacceptable},
		{"weak password", "bob", "ab", types.ErrWeakPassword},
		{"minimum password", "carol", "abc", nil},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDirectory()
			u, err := d.Register(tc.username, tc.password)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, u)
				assert.False(t, d.Exists(tc.username))
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.username, u.Username)
			assert.NotEqual(t, tc.password, u.PasswordHash, "expected password to be stored hashed")
			assert.True(t, d.Exists(tc.username))
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("alice", "secret")
	assert.NoError(t, err)

	_, err = d.Register("alice", "other")
	assert.ErrorIs(t, err, types.ErrUsernameAlreadyInUse)
}

func TestLoginLogout(t *testing.T) {
	d := NewDirectory()
	_, err := d.Register("alice", "secret")
	assert.NoError(t, err)

	assert.True(t, d.Login("alice", "secret"))
	assert.False(t, d.Login("alice", "wrong"))
	assert.False(t, d.Login("bob", "secret"))

	assert.True(t, d.Logout("alice"))
	assert.False(t, d.Logout("bob"))
}

func TestLongPassword(t *testing.T) {
	d := NewDirectory()
	password := strings.Repeat("x", 100)

	_, err := d.Register("alice", password)
	assert.NoError(t, err)

	assert.True(t, d.Login("alice", password))
	assert.False(t, d.Login("alice", password[:72]))
}

func TestGetUser(t *testing.T) {
	d := NewDirectory()
	_, err := d.GetUser("alice")
	assert.ErrorIs(t, err, types.ErrNoRegisteredUserFound)

	d.Register("alice", "secret")
	u, err := d.GetUser("alice")
	assert.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestAnonymousName(t *testing.T) {
	d := NewDirectory()

	seen := make(map[string]struct{})
	for range 100 {
		name := d.AnonymousName()
		assert.True(t, strings.HasPrefix(name, "anonymous_"))
		assert.False(t, d.Exists(name))
		_, dup := seen[name]
		assert.False(t, dup, "expected anonymous names in use to be distinct")
		seen[name] = struct{}{}
	}

	for name := range seen {
		d.ReleaseAnonymousName(name)
	}
	assert.Empty(t, d.anonymous)
}

func TestDumpLoad(t *testing.T) {
	d := NewDirectory()
	d.Register("bob", "secret2")
	d.Register("alice", "secret")

	dump := d.Dump()
	assert.Len(t, dump, 2)
	assert.Equal(t, "alice", dump[0].Username)
	assert.Equal(t, "bob", dump[1].Username)

	fresh := NewDirectory()
	skipped := fresh.Load(append(dump, types.User{Username: "/bad", PasswordHash: "x"}))
	assert.Equal(t, []string{"/bad"}, skipped)
	assert.True(t, fresh.Login("alice", "secret"))
	assert.True(t, fresh.Login("bob", "secret2"))
	assert.False(t, fresh.Exists("/bad"))
}
