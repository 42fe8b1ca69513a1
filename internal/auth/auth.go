// Package auth is the session manager: sign-up, sign-in and profile
// maintenance for one caller.
package auth

import (
	"context"
	"fmt"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
	"firehouse/internal/identity"
	"firehouse/internal/logging"
	"firehouse/internal/models"
	"firehouse/internal/rules"
)

// Manager ties an identity session to the profile documents under
// <partition>/users. It holds no state of its own; every derived value is
// read from the live session when asked for.
type Manager struct {
	identity identity.Service
	store    docstore.Store
	users    docstore.Path
	log      *logging.Logger
}

// NewManager builds a manager for the domain partition, e.g. "swallow/my-domain".
func NewManager(svc identity.Service, store docstore.Store, partition docstore.Path, log *logging.Logger) *Manager {
	return &Manager{
		identity: svc,
		store:    store,
		users:    partition.Child(rules.UsersCollection),
		log:      log,
	}
}

// Register creates the account, which also signs the caller in, and
// stores the draft without its password as the caller's profile.
func (m *Manager) Register(ctx context.Context, draft *models.User) (*models.Identity, error) {
	if draft == nil {
		return nil, ecode.New(ecode.EmptyInput, "User object is empty.")
	}
	if err := checkCredentials(draft.Email, draft.Password); err != nil {
		return nil, err
	}

	id, err := m.identity.CreateAccount(ctx, draft.Email, draft.Password)
	if err != nil {
		return nil, err
	}

	profile := *draft
	profile.Password = ""
	profile.UID = id.UID
	data, err := docstore.ToData(&profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := m.store.Set(docstore.WithToken(ctx, id.Token), m.users.Child(id.UID), data); err != nil {
		m.log.Error(ctx, "profile not stored after registration", "uid", id.UID, "error", err)
		return nil, err
	}
	m.log.Info(ctx, "user registered", "uid", id.UID)
	return id, nil
}

func (m *Manager) Login(ctx context.Context, email, password string) (*models.Identity, error) {
	if err := checkCredentials(email, password); err != nil {
		return nil, err
	}
	return m.identity.SignIn(ctx, email, password)
}

// Logout ends the current session. It is a no-op when signed out.
func (m *Manager) Logout(ctx context.Context) error {
	return m.identity.SignOut(ctx)
}

// UpdateProfile merges the set fields of partial into the caller's own
// profile and returns the whole profile as stored afterwards. Denials
// from the store are returned unchanged.
func (m *Manager) UpdateProfile(ctx context.Context, partial *models.User) (*models.User, error) {
	cur := m.identity.CurrentSession(ctx)
	if cur == nil {
		return nil, ecode.New(ecode.LoginFirst, "User is not logged in")
	}
	if partial == nil {
		return nil, ecode.New(ecode.EmptyInput, "User object is empty.")
	}
	fields := *partial
	fields.Password = ""
	data, err := docstore.ToData(&fields)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := m.store.Update(docstore.WithToken(ctx, cur.Token), m.users.Child(cur.UID), data); err != nil {
		return nil, err
	}
	return m.Profile(ctx, cur.UID)
}

// Profile returns the stored profile of uid, or nil when there is none.
func (m *Manager) Profile(ctx context.Context, uid string) (*models.User, error) {
	if uid == "" {
		return nil, ecode.New(ecode.IDEmpty, "User ID must be provided.")
	}
	snap, err := m.store.Get(ctx, m.users.Child(uid))
	if err != nil || snap == nil {
		return nil, err
	}
	u := &models.User{}
	if err := snap.DataTo(u); err != nil {
		return nil, err
	}
	return u, nil
}

// CurrentIdentity returns the signed-in identity, or nil.
func (m *Manager) CurrentIdentity(ctx context.Context) *models.Identity {
	return m.identity.CurrentSession(ctx)
}

// CurrentUID returns the signed-in uid, or "".
func (m *Manager) CurrentUID(ctx context.Context) string {
	if cur := m.identity.CurrentSession(ctx); cur != nil {
		return cur.UID
	}
	return ""
}

func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	return m.identity.CurrentSession(ctx) != nil
}

func (m *Manager) IsLoggedOut(ctx context.Context) bool {
	return !m.IsLoggedIn(ctx)
}

// Authorize attaches the current session's token to ctx so document
// store writes made with it are judged as this caller. Signed out, ctx is
// returned as is.
func (m *Manager) Authorize(ctx context.Context) context.Context {
	if cur := m.identity.CurrentSession(ctx); cur != nil {
		return docstore.WithToken(ctx, cur.Token)
	}
	return ctx
}

func checkCredentials(email, password string) error {
	if email == "" {
		return ecode.New(ecode.EmptyEmail, "Email is empty.")
	}
	if password == "" {
		return ecode.New(ecode.EmptyPassword, "Password is empty")
	}
	return nil
}
