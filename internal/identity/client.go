package identity

import (
	"context"
	"sync"

	"firehouse/internal/models"
)

// Service is the identity backend as seen by one caller.
type Service interface {
	// CreateAccount registers and signs in.
	CreateAccount(ctx context.Context, email, password string) (*models.Identity, error)
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns the signed-in identity, or nil.
	CurrentSession(ctx context.Context) *models.Identity
}

// Client holds one caller's session against a Provider.
type Client struct {
	provider *Provider

	mu      sync.Mutex
	current *models.Identity
}

var _ Service = (*Client)(nil)

func (c *Client) CreateAccount(ctx context.Context, email, password string) (*models.Identity, error) {
	id, err := c.provider.createAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.swap(ctx, id)
	return id, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	id, err := c.provider.signIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.swap(ctx, id)
	return id, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.mu.Unlock()

	if cur == nil {
		return nil
	}
	return c.provider.closeSession(ctx, cur.Token)
}

// CurrentSession checks the session with the provider on every call, so
// an expired or revoked session reads as signed out.
func (c *Client) CurrentSession(ctx context.Context) *models.Identity {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil {
		return nil
	}
	if _, err := c.provider.verify(ctx, cur.Token); err != nil {
		c.mu.Lock()
		if c.current == cur {
			c.current = nil
		}
		c.mu.Unlock()
		return nil
	}
	copied := *cur
	return &copied
}

// swap makes id the current session, closing the one it replaces.
func (c *Client) swap(ctx context.Context, id *models.Identity) {
	c.mu.Lock()
	prev := c.current
	c.current = id
	c.mu.Unlock()

	if prev != nil {
		if err := c.provider.closeSession(ctx, prev.Token); err != nil {
			c.provider.log.Warn(ctx, "failed to close replaced session", "uid", prev.UID, "error", err)
		}
	}
}
