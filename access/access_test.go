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

package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darve-social/darve-server/store"
	"github.com/darve-social/darve-server/store/memorydb"
)

func chain() (*Resource, *Resource, *Resource) {
	discussion := &Resource{Kind: store.ResourceDiscussion, ID: "d1"}
	post := &Resource{Kind: store.ResourcePost, ID: "p1", Parent: discussion}
	task := &Resource{Kind: store.ResourceTask, ID: "t1", Parent: post}
	return discussion, post, task
}

func TestCanWalksParentChain(t *testing.T) {
	db := memorydb.New()
	defer db.Close()
	c := NewController(db)
	ctx := context.Background()

	discussion, post, task := chain()

	// A role granted on the discussion governs the derived post and task.
	require.NoError(t, c.Grant(ctx, "alice", discussion.StoreID(), store.RoleMember))

	ok, err := c.Can(ctx, "alice", task, PermAcceptTask)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Can(ctx, "alice", post, PermView)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Can(ctx, "alice", post, PermEdit)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Can(ctx, "bob", task, PermView)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoleMonotonicity(t *testing.T) {
	db := memorydb.New()
	defer db.Close()
	c := NewController(db)
	ctx := context.Background()

	discussion, post, _ := chain()

	// The strongest role anywhere on the path wins; a weaker role closer
	// to the leaf does not shadow it.
	require.NoError(t, c.Grant(ctx, "alice", discussion.StoreID(), store.RoleOwner))
	require.NoError(t, c.Grant(ctx, "alice", post.StoreID(), store.RoleChat))

	ok, err := c.Can(ctx, "alice", post, PermEdit)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublicResourceWaivesReadSide(t *testing.T) {
	db := memorydb.New()
	defer db.Close()
	c := NewController(db)
	ctx := context.Background()

	task := &Resource{Kind: store.ResourceTask, ID: "t1", Public: true}

	ok, err := c.Can(ctx, "stranger", task, PermDonate)
	require.NoError(t, err)
	require.True(t, ok)

	// Edit still needs a grant even on public resources.
	ok, err = c.Can(ctx, "stranger", task, PermEdit)
	require.NoError(t, err)
	require.False(t, ok)

	// Anonymous callers get nothing.
	ok, err = c.Can(ctx, "", task, PermView)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrantInvalidatesCache(t *testing.T) {
	db := memorydb.New()
	defer db.Close()
	c := NewController(db)
	ctx := context.Background()

	res := &Resource{Kind: store.ResourceDiscussion, ID: "d1"}

	ok, err := c.Can(ctx, "alice", res, PermView)
	require.NoError(t, err)
	require.False(t, ok)

	// The earlier negative lookup is cached; the grant must purge it.
	require.NoError(t, c.Grant(ctx, "alice", res.StoreID(), store.RoleMember))
	ok, err = c.Can(ctx, "alice", res, PermView)
	require.NoError(t, err)
	require.True(t, ok)
}
