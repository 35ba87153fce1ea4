// Package auth implements the per-session authentication gate.
//
// The gate is a presentation-level switch: Login and Register accept any
// well-formed form and mark the session authenticated without verifying
// credentials against any identity service. It must not be relied upon as a
// security boundary.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ErrNoBlob is returned by a BlobStore when nothing is saved under a key.
var ErrNoBlob = errors.New("no saved user")

// User is the authenticated-user record.
type User struct {
	ID       int64
	Email    string
	Username string
}

// BlobStore persists opaque user records under a key.
type BlobStore interface {
	Save(ctx context.Context, key string, blob []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Gate tracks whether one session is authenticated and persists the user
// record so the session can be restored later with CheckAuth.
//
// Gate is not safe for concurrent use.
type Gate struct {
	store BlobStore
	key   string
	now   func() time.Time
	user  *User
}

// NewGate returns an unauthenticated gate that persists under key.
func NewGate(store BlobStore, key string) *Gate {
	return &Gate{store: store, key: key, now: time.Now}
}

// IsAuthenticated reports whether a user is signed in.
func (g *Gate) IsAuthenticated() bool {
	return g.user != nil
}

// User returns the signed-in user, if any.
func (g *Gate) User() (User, bool) {
	if g.user == nil {
		return User{}, false
	}
	return *g.user, true
}

// Login validates the form and signs the user in. The username is derived
// from the local part of the email address.
func (g *Gate) Login(ctx context.Context, f LoginForm) (User, error) {
	if err := f.Validate(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(f.Email)
	u := User{
		ID:       g.now().UnixMilli(),
		Email:    email,
		Username: strings.SplitN(email, "@", 2)[0],
	}
	if err := g.signIn(ctx, u); err != nil {
		return User{}, errors.Wrap(err, "login")
	}
	return u, nil
}

// Register validates the form and signs the new user in.
func (g *Gate) Register(ctx context.Context, f RegisterForm) (User, error) {
	if err := f.Validate(); err != nil {
		return User{}, err
	}

	u := User{
		ID:       g.now().UnixMilli(),
		Email:    strings.TrimSpace(f.Email),
		Username: strings.TrimSpace(f.Username),
	}
	if err := g.signIn(ctx, u); err != nil {
		return User{}, errors.Wrap(err, "register")
	}
	return u, nil
}

// Logout removes the saved record and clears the session user. When the
// record cannot be removed the user stays signed in.
func (g *Gate) Logout(ctx context.Context) error {
	if err := g.store.Delete(ctx, g.key); err != nil {
		return errors.Wrap(err, "delete saved user")
	}
	g.user = nil
	return nil
}

// CheckAuth restores the user from a previously saved record and reports
// whether the gate is authenticated afterwards. A record that cannot be
// decoded is discarded.
func (g *Gate) CheckAuth(ctx context.Context) (bool, error) {
	blob, err := g.store.Load(ctx, g.key)
	if err != nil {
		if errors.Is(err, ErrNoBlob) {
			return g.IsAuthenticated(), nil
		}
		return g.IsAuthenticated(), errors.Wrap(err, "load saved user")
	}

	u, err := DecodeUser(blob)
	if err != nil {
		if err := g.store.Delete(ctx, g.key); err != nil {
			return g.IsAuthenticated(), errors.Wrap(err, "delete corrupt user")
		}
		return g.IsAuthenticated(), nil
	}

	g.user = &u
	return true, nil
}

func (g *Gate) signIn(ctx context.Context, u User) error {
	if err := g.store.Save(ctx, g.key, EncodeUser(u)); err != nil {
		return errors.Wrap(err, "save user")
	}
	g.user = &u
	return nil
}

// EncodeUser serializes u as a JSON object with id, email and an optional
// username.
func EncodeUser(u User) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Int64(u.ID)
	e.FieldStart("email")
	e.Str(u.Email)
	if u.Username != "" {
		e.FieldStart("username")
		e.Str(u.Username)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// DecodeUser parses a record produced by EncodeUser. Unknown fields are
// ignored; a record without an email is rejected.
func DecodeUser(blob []byte) (User, error) {
	var u User
	d := jx.DecodeBytes(blob)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = d.Int64()
		case "email":
			u.Email, err = d.Str()
		case "username":
			if d.Next() == jx.Null {
				return d.Null()
			}
			u.Username, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return User{}, errors.Wrap(err, "decode user")
	}
	if u.Email == "" {
		return User{}, errors.New("decode user: missing email")
	}
	return u, nil
}
