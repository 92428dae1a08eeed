package controller

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a capability level checked before privileged vault operations.
type Role string

const (
	// RoleManager may create, activate, configure, pause and resume strategies.
	RoleManager Role = "manager"
	// RoleOperator may trigger rebalances and arbitrage execution.
	RoleOperator Role = "operator"
	// RoleAdmin may force an emergency stop.
	RoleAdmin Role = "admin"
)

// ErrUnauthorized is returned when the caller lacks the required role.
var ErrUnauthorized = errors.New("caller lacks required role")

// Authorizer answers capability checks. Role assignment stays external to the
// vault core.
type Authorizer interface {
	HasRole(caller common.Address, role Role) bool
}

// StaticAuthorizer is a map-backed Authorizer configured at startup.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	grants map[common.Address]map[Role]bool
}

// NewStaticAuthorizer creates an authorizer with no grants.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[common.Address]map[Role]bool)}
}

// Grant gives an account one or more roles.
func (a *StaticAuthorizer) Grant(account common.Address, roles ...Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grants[account] == nil {
		a.grants[account] = make(map[Role]bool)
	}
	for _, role := range roles {
		a.grants[account][role] = true
	}
}

// Revoke removes a role from an account.
func (a *StaticAuthorizer) Revoke(account common.Address, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.grants[account], role)
}

// HasRole implements Authorizer.
func (a *StaticAuthorizer) HasRole(caller common.Address, role Role) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grants[caller][role]
}
