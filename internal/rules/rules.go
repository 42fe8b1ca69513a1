// Package rules is the write policy of the forum's document tree:
//
//	<root>/<domain>/users/<uid>   owner writes only, uid is fixed
//	<root>/<domain>/posts/<id>    signed-in create as yourself, owner updates,
//	                              uid and category are fixed
//
// Everything else is read-only for clients.
package rules

import (
	"context"

	"firehouse/internal/docstore"
	"firehouse/internal/ecode"
)

const (
	UsersCollection = "users"
	PostsCollection = "posts"
)

// Forum enforces the policy for one root collection.
type Forum struct {
	Root string
}

var _ docstore.Policy = Forum{}

func deny(msg string) error {
	return ecode.New(ecode.PermissionDenied, "Missing or insufficient permissions: "+msg)
}

func (f Forum) Allow(_ context.Context, req *docstore.Request) error {
	segs := req.Path.Segments()
	// root/domain/collection[/id]
	if len(segs) < 3 || segs[0] != f.Root {
		return deny("outside of the forum tree")
	}
	switch {
	case segs[2] == UsersCollection && len(segs) == 4:
		return allowUser(req, segs[3])
	case segs[2] == PostsCollection && len(segs) == 3 && req.Op == docstore.OpCreate:
		return allowPostCreate(req)
	case segs[2] == PostsCollection && len(segs) == 4 && req.Op == docstore.OpUpdate:
		return allowPostUpdate(req)
	}
	return deny("no rule allows " + string(req.Op) + " on " + string(req.Path))
}

func allowUser(req *docstore.Request, uid string) error {
	if req.Auth == "" {
		return deny("sign in to write a profile")
	}
	if req.Auth != uid {
		return deny("profile belongs to another user")
	}
	if v, ok := req.Incoming["uid"]; ok && v != uid {
		return deny("uid cannot change")
	}
	return nil
}

func allowPostCreate(req *docstore.Request) error {
	if req.Auth == "" {
		return deny("sign in to create a post")
	}
	if category, _ := req.Incoming["category"].(string); category == "" {
		return deny("category is required")
	}
	if uid, _ := req.Incoming["uid"].(string); uid != req.Auth {
		return deny("uid must be the signed-in user")
	}
	return nil
}

func allowPostUpdate(req *docstore.Request) error {
	if req.Auth == "" {
		return deny("sign in to update a post")
	}
	if owner, _ := req.Existing["uid"].(string); owner != req.Auth {
		return deny("post belongs to another user")
	}
	for _, field := range []string{"uid", "category"} {
		if v, ok := req.Incoming[field]; ok && v != req.Existing[field] {
			return deny(field + " cannot change")
		}
	}
	return nil
}
