// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

// Package access answers the single question the core asks about identity:
// may this user perform this operation on this resource. Roles are granted
// per resource and inherited down the App → Discussion → Post → Task
// chain; the decision takes the best role found anywhere on the path.
package access

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/darve-social/darve-server/store"
)

// Permission names one operation subject to access control.
type Permission string

const (
	PermView             Permission = "View"
	PermEdit             Permission = "Edit"
	PermCreatePublicPost Permission = "CreatePublicPost"
	PermLikePost         Permission = "LikePost"
	PermCreateReply      Permission = "CreateReply"
	PermAcceptTask       Permission = "AcceptTask"
	PermDeliverTask      Permission = "DeliverTask"
	PermDonate           Permission = "Donate"
)

// Resource is one node of the access hierarchy. Parent links form the walk
// path; Public marks resources whose read-side operations need no grant.
type Resource struct {
	Kind   store.ResourceKind
	ID     string
	Public bool
	Parent *Resource
}

// StoreID returns the grant key of the resource.
func (r *Resource) StoreID() store.ResourceID {
	return store.ResourceID{Kind: r.Kind, ID: r.ID}
}

// requiredRole maps a permission to the minimum role on a private
// resource. Public resources waive the requirement for the read-side
// permissions handled in Can.
func requiredRole(perm Permission) store.Role {
	switch perm {
	case PermEdit:
		return store.RoleEditor
	case PermView, PermLikePost, PermCreateReply, PermDonate:
		return store.RoleChat
	default:
		return store.RoleMember
	}
}

// publicPermission reports whether perm is waived on public resources.
func publicPermission(perm Permission) bool {
	switch perm {
	case PermView, PermLikePost, PermCreateReply, PermDonate, PermAcceptTask, PermDeliverTask:
		return true
	}
	return false
}

// Controller resolves access decisions with a small LRU over role lookups.
type Controller struct {
	db    store.DB
	cache *lru.Cache
	log   *logrus.Entry
}

// roleCacheSize bounds the per-process role cache.
const roleCacheSize = 4096

// NewController creates an access controller on top of db.
func NewController(db store.DB) *Controller {
	cache, _ := lru.New(roleCacheSize)
	return &Controller{
		db:    db,
		cache: cache,
		log:   logrus.WithField("component", "access"),
	}
}

func cacheKey(user string, res store.ResourceID) string {
	return fmt.Sprintf("%s|%s|%s", user, res.Kind, res.ID)
}

// Grant assigns a role to user on a resource, replacing any previous grant.
func (c *Controller) Grant(ctx context.Context, user string, res store.ResourceID, role store.Role) error {
	err := c.db.Update(ctx, func(tx store.Tx) error {
		return tx.Access().SetRole(user, res, role)
	})
	if err != nil {
		return err
	}
	c.cache.Remove(cacheKey(user, res))
	return nil
}

// RoleOn returns the role user holds on exactly one resource.
func (c *Controller) RoleOn(ctx context.Context, user string, res store.ResourceID) (store.Role, error) {
	if cached, ok := c.cache.Get(cacheKey(user, res)); ok {
		return cached.(store.Role), nil
	}
	var role store.Role
	err := c.db.View(ctx, func(tx store.Tx) error {
		var err error
		role, err = tx.Access().GetRole(user, res)
		return err
	})
	if err != nil {
		return store.RoleNone, err
	}
	c.cache.Add(cacheKey(user, res), role)
	return role, nil
}

// Can resolves the access decision for user on res. The resource's parent
// chain is walked root-ward; the strongest role found anywhere on the path
// is compared against the permission's requirement.
func (c *Controller) Can(ctx context.Context, user string, res *Resource, perm Permission) (bool, error) {
	if res == nil {
		return false, nil
	}
	if res.Public && publicPermission(perm) && user != "" {
		return true, nil
	}
	best := store.RoleNone
	for node := res; node != nil; node = node.Parent {
		role, err := c.RoleOn(ctx, user, node.StoreID())
		if err != nil {
			return false, err
		}
		if role > best {
			best = role
		}
	}
	return best >= requiredRole(perm), nil
}
