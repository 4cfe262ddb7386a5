package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

type stubRepo struct {
	clients     map[int64]*Client
	assignments map[int64][]int64 // client id -> assigned user ids
	assignedBy  map[[2]int64]int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		clients:     map[int64]*Client{},
		assignments: map[int64][]int64{},
		assignedBy:  map[[2]int64]int64{},
	}
}

func (r *stubRepo) addClient(id int64, createdBy *int64) {
	r.clients[id] = &Client{ID: id, Name: "client", CreatedBy: createdBy}
}

func (r *stubRepo) assign(clientID, userID int64) {
	r.assignments[clientID] = append(r.assignments[clientID], userID)
}

func (r *stubRepo) FindByID(ctx context.Context, id int64) (*Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *stubRepo) ListAll(ctx context.Context) ([]Client, error) {
	var out []Client
	for _, c := range r.clients {
		out = append(out, *c)
	}
	return out, nil
}

func (r *stubRepo) ListByIDs(ctx context.Context, ids []int64) ([]Client, error) {
	var out []Client
	for _, id := range ids {
		if c, ok := r.clients[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *stubRepo) Create(ctx context.Context, c Client) (*Client, error) {
	c.ID = int64(len(r.clients) + 1)
	r.clients[c.ID] = &c
	clone := c
	return &clone, nil
}

func (r *stubRepo) AccessibleIDs(ctx context.Context, userID int64, includeCreated bool) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for clientID, users := range r.assignments {
		for _, uid := range users {
			if uid == userID && !seen[clientID] {
				seen[clientID] = true
				ids = append(ids, clientID)
			}
		}
	}
	if includeCreated {
		for id, c := range r.clients {
			if c.CreatedBy != nil && *c.CreatedBy == userID && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (r *stubRepo) HasClientAccess(ctx context.Context, userID, clientID int64) (bool, error) {
	if c, ok := r.clients[clientID]; ok && c.CreatedBy != nil && *c.CreatedBy == userID {
		return true, nil
	}
	for _, uid := range r.assignments[clientID] {
		if uid == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRepo) UpsertAssignment(ctx context.Context, a Assignment) error {
	for _, uid := range r.assignments[a.ClientID] {
		if uid == a.UserID {
			r.assignedBy[[2]int64{a.ClientID, a.UserID}] = a.AssignedBy
			return nil
		}
	}
	r.assignments[a.ClientID] = append(r.assignments[a.ClientID], a.UserID)
	r.assignedBy[[2]int64{a.ClientID, a.UserID}] = a.AssignedBy
	return nil
}

func (r *stubRepo) DeleteAssignment(ctx context.Context, clientID, userID int64) (int64, error) {
	users := r.assignments[clientID]
	for i, uid := range users {
		if uid == userID {
			r.assignments[clientID] = append(users[:i], users[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (r *stubRepo) ListAssignees(ctx context.Context, clientID int64) ([]Assignment, error) {
	var out []Assignment
	for _, uid := range r.assignments[clientID] {
		out = append(out, Assignment{ClientID: clientID, UserID: uid})
	}
	return out, nil
}

type stubDirectory struct {
	users   map[int64]*identity.Principal
	subtree map[int64][]int64 // actor id -> reachable target ids
}

func (d *stubDirectory) FindByID(ctx context.Context, id int64) (*identity.Principal, error) {
	p, ok := d.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

func (d *stubDirectory) IsCreatorOrManager(ctx context.Context, actorID, targetID int64) (bool, error) {
	for _, id := range d.subtree[actorID] {
		if id == targetID {
			return true, nil
		}
	}
	return false, nil
}

func ptr(id int64) *int64 { return &id }

func fullAccessActor(id int64) *identity.Principal {
	return &identity.Principal{
		ID: id, IsActive: true,
		Role: &identity.Role{ID: 1, Name: "Administrator", FullAccess: true, IsActive: true},
	}
}

func teamManager(id int64, perms identity.PermissionDoc) *identity.Principal {
	return &identity.Principal{
		ID: id, IsActive: true,
		Role: &identity.Role{ID: 2, Name: "Team Lead", IsTeamManager: true, IsActive: true, Permissions: perms},
	}
}

func clientsCRU() identity.PermissionDoc {
	return identity.PermissionDoc{
		identity.ModuleClients: {"Create": true, "Read": true, "Update": true},
	}
}

func TestAccessibleClientIDsIsCreatedUnionAssigned(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10)) // created by actor
	repo.addClient(2, ptr(99)) // someone else's, assigned to actor
	repo.addClient(3, ptr(99)) // unreachable
	repo.assign(2, 10)
	actor := teamManager(10, clientsCRU())
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	scope, err := svc.AccessibleClientIDs(context.Background(), actor)
	require.NoError(t, err)
	assert.False(t, scope.All)
	assert.ElementsMatch(t, []int64{1, 2}, scope.IDs)

	// No drift without intervening writes.
	again, err := svc.AccessibleClientIDs(context.Background(), actor)
	require.NoError(t, err)
	assert.ElementsMatch(t, scope.IDs, again.IDs)
}

func TestAccessibleClientIDsWithoutReadIsAssignedOnly(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10))
	repo.addClient(2, ptr(99))
	repo.assign(2, 10)
	actor := teamManager(10, identity.PermissionDoc{
		identity.ModuleClients: {"Update": true},
	})
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	scope, err := svc.AccessibleClientIDs(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, scope.IDs, "created clients drop out without Read or Create")
}

func TestListVisibleReturnsOnlyScopedRows(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10))
	repo.addClient(2, ptr(99))
	repo.addClient(3, ptr(99))
	repo.assign(3, 10)
	actor := teamManager(10, identity.PermissionDoc{
		identity.ModuleClients: {"Read": true},
	})
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	list, err := svc.ListVisible(context.Background(), actor)
	require.NoError(t, err)
	ids := make([]int64, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids, "never the full table")
}

func TestAssignClientFullAccess(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	dir := &stubDirectory{users: map[int64]*identity.Principal{
		20: {ID: 20, IsActive: true, RoleID: ptr(2)},
	}}
	svc := NewService(repo, dir, nil, nil)

	require.NoError(t, svc.AssignClient(context.Background(), fullAccessActor(1), 1, 20))
	assert.Equal(t, []int64{20}, repo.assignments[1])
}

func TestAssignClientTargetWithoutRole(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	dir := &stubDirectory{users: map[int64]*identity.Principal{
		20: {ID: 20, IsActive: true},
	}}
	svc := NewService(repo, dir, nil, nil)

	err := svc.AssignClient(context.Background(), fullAccessActor(1), 1, 20)
	assert.ErrorIs(t, err, ErrTargetWithoutRole)
}

func TestAssignClientOutsideSubtree(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10))
	dir := &stubDirectory{
		users: map[int64]*identity.Principal{
			20: {ID: 20, IsActive: true, RoleID: ptr(2)},
		},
		subtree: map[int64][]int64{10: {11, 12}},
	}
	svc := NewService(repo, dir, nil, nil)

	err := svc.AssignClient(context.Background(), teamManager(10, clientsCRU()), 1, 20)
	assert.ErrorIs(t, err, ErrCannotManageClients)
	assert.Empty(t, repo.assignments[1])
}

func TestAssignClientWithoutClientAccess(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(99))
	dir := &stubDirectory{
		users: map[int64]*identity.Principal{
			11: {ID: 11, IsActive: true, RoleID: ptr(2)},
		},
		subtree: map[int64][]int64{10: {11}},
	}
	svc := NewService(repo, dir, nil, nil)

	err := svc.AssignClient(context.Background(), teamManager(10, clientsCRU()), 1, 11)
	assert.ErrorIs(t, err, ErrClientAccessDenied)
}

func TestAssignClientWithinSubtree(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10))
	dir := &stubDirectory{
		users: map[int64]*identity.Principal{
			11: {ID: 11, IsActive: true, RoleID: ptr(2)},
		},
		subtree: map[int64][]int64{10: {11}},
	}
	svc := NewService(repo, dir, nil, nil)

	require.NoError(t, svc.AssignClient(context.Background(), teamManager(10, clientsCRU()), 1, 11))
	assert.Equal(t, []int64{11}, repo.assignments[1])
}

func TestUnassignSelfBlockedForNonFullAccess(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, ptr(10))
	repo.assign(1, 10)
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	// Blocked even though the actor created the client and satisfies every
	// other unassign condition.
	err := svc.UnassignClient(context.Background(), teamManager(10, clientsCRU()), 1, 10)
	assert.ErrorIs(t, err, ErrSelfUnassign)
	assert.Equal(t, []int64{10}, repo.assignments[1])
}

func TestUnassignSelfAllowedForFullAccess(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	repo.assign(1, 1)
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	require.NoError(t, svc.UnassignClient(context.Background(), fullAccessActor(1), 1, 1))
	assert.Empty(t, repo.assignments[1])
}

func TestUnassignMissingAssignment(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	err := svc.UnassignClient(context.Background(), fullAccessActor(1), 1, 20)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAssignRequiresCoarseGate(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	actor := &identity.Principal{
		ID: 10, IsActive: true,
		Role: &identity.Role{ID: 5, IsActive: true, Permissions: identity.PermissionDoc{
			identity.ModuleClients: {"Read": true},
		}},
	}
	svc := NewService(repo, &stubDirectory{}, nil, nil)

	err := svc.AssignClient(context.Background(), actor, 1, 20)
	assert.ErrorIs(t, err, ErrCannotManageClients)
}

func TestReassignIsUpsert(t *testing.T) {
	repo := newStubRepo()
	repo.addClient(1, nil)
	dir := &stubDirectory{users: map[int64]*identity.Principal{
		20: {ID: 20, IsActive: true, RoleID: ptr(2)},
	}}
	svc := NewService(repo, dir, nil, nil)

	require.NoError(t, svc.AssignClient(context.Background(), fullAccessActor(1), 1, 20))
	require.NoError(t, svc.AssignClient(context.Background(), fullAccessActor(2), 1, 20))
	assert.Equal(t, []int64{20}, repo.assignments[1], "re-assign must not duplicate")
	assert.Equal(t, int64(2), repo.assignedBy[[2]int64{1, 20}])
}
