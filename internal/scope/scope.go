package scope

import (
	"strings"

	"crm-auth-service/internal/model"

	"gorm.io/gorm"
)

// Scope is a visibility class applied to tenant-scoped queries
type Scope string

const (
	// ScopeOwn limits a query to records the requester owns
	ScopeOwn Scope = "own"
	// ScopeTeam limits a query to the requester and their reporting line
	ScopeTeam Scope = "team"
	// ScopeAll sees every record within the tenant
	ScopeAll Scope = "all"
)

// maxTeamDepth bounds the manager-hierarchy walk. The manager graph is
// acyclic in healthy data but a data-entry error can close a loop, so the
// traversal is depth-bounded and cycle-guarded rather than recursive.
const maxTeamDepth = 10

// teamScopeNames are role names that get team visibility regardless of
// their level band. Kept here as the single mapping so adding a role never
// means hunting for string comparisons across handlers.
var teamScopeNames = map[string]bool{
	"supervisor":    true,
	"team lead":     true,
	"sales manager": true,
}

var allScopeNames = map[string]bool{
	model.RoleOwner:   true,
	model.RoleAdmin:   true,
	model.RoleManager: true,
}

// Resolve maps a role to its visibility class. An unknown or inactive role
// gets the narrowest scope, never a wider one.
func Resolve(role *model.Role) Scope {
	if role == nil || !role.IsActive {
		return ScopeOwn
	}

	name := strings.ToLower(strings.TrimSpace(role.Name))
	if allScopeNames[name] {
		return ScopeAll
	}
	if teamScopeNames[name] {
		return ScopeTeam
	}

	switch {
	case role.Level <= 2:
		return ScopeAll
	case role.Level <= 4:
		return ScopeTeam
	default:
		return ScopeOwn
	}
}

// Apply narrows a query to the given scope. Every branch filters by tenant
// first: no role ever widens visibility across the tenant boundary.
func Apply(db *gorm.DB, s Scope, tenantID uint, requesterID uint) *gorm.DB {
	scoped := db.Where("tenant_id = ?", tenantID)

	switch s {
	case ScopeAll:
		return scoped
	case ScopeTeam:
		// Fresh session so the hierarchy lookup does not inherit the
		// caller's query conditions
		ids, err := TeamMemberIDs(db.Session(&gorm.Session{NewDB: true}), requesterID)
		if err != nil {
			// Fall back to the narrowest filter rather than widening on error
			return scoped.Where("owner_id = ?", requesterID)
		}
		return scoped.Where("owner_id IN ?", ids)
	default:
		return scoped.Where("owner_id = ?", requesterID)
	}
}

// TeamMemberIDs returns the requester plus everyone whose manager chain
// resolves to the requester, walked breadth-first with a visited set and a
// depth bound. A manager with zero subordinates gets just themselves.
func TeamMemberIDs(db *gorm.DB, requesterID uint) ([]uint, error) {
	visited := map[uint]bool{requesterID: true}
	result := []uint{requesterID}
	frontier := []uint{requesterID}

	for depth := 0; depth < maxTeamDepth && len(frontier) > 0; depth++ {
		var subordinates []model.User
		if err := db.Select("id").Where("manager_id IN ?", frontier).Find(&subordinates).Error; err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, u := range subordinates {
			if visited[u.ID] {
				continue
			}
			visited[u.ID] = true
			result = append(result, u.ID)
			frontier = append(frontier, u.ID)
		}
	}

	return result, nil
}
