package policy

import "github.com/tripease/identity/internal/model"

func isRole(roles ...Role) func(Actor) bool {
	return func(a Actor) bool {
		for _, r := range roles {
			if a.Role == r {
				return true
			}
		}
		return false
	}
}

func ownRow(a Actor, row *model.Identity) bool {
	return row != nil && a.IdentityID != "" && row.ID == a.IdentityID
}

func anyRow(_ Actor, row *model.Identity) bool {
	return row != nil
}

// DefaultRules is the policy set for the identities table. Rule names match
// the policy names declared on the database.
func DefaultRules() []Rule {
	var rules []Rule

	// Backend-trusted callers: every operation, no row predicate.
	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete} {
		rules = append(rules, Rule{
			Name:      "service_role_all",
			Operation: op,
			Tier:      TierService,
			Actor:     isRole(RoleService),
		})
	}

	rules = append(rules,
		Rule{
			Name:      "identities_select_own",
			Operation: OpRead,
			Tier:      TierSelf,
			Actor:     isRole(RoleAuthenticated, RoleStaff),
			Row:       ownRow,
		},
		// Flag changes inside an own-row update are reverted by SanitizeUpdate.
		Rule{
			Name:      "identities_update_own",
			Operation: OpUpdate,
			Tier:      TierSelf,
			Actor:     isRole(RoleAuthenticated, RoleStaff),
			Row:       ownRow,
		},
		Rule{
			Name:      "staff_select_all",
			Operation: OpRead,
			Tier:      TierStaff,
			Actor:     isRole(RoleStaff),
			Row:       anyRow,
		},
		Rule{
			Name:      "staff_update_all",
			Operation: OpUpdate,
			Tier:      TierStaff,
			Actor:     isRole(RoleStaff),
			Row:       anyRow,
		},
		Rule{
			Name:      "staff_delete_all",
			Operation: OpDelete,
			Tier:      TierStaff,
			Actor:     isRole(RoleStaff),
			Row:       anyRow,
		},
		Rule{
			Name:      "anon_insert_signup",
			Operation: OpInsert,
			Tier:      TierAnonymous,
			Actor:     isRole(RoleAnonymous),
		},
		Rule{
			Name:      "anon_select_credentials",
			Operation: OpRead,
			Tier:      TierAnonymous,
			Scope:     ScopeCredentials,
			Actor:     isRole(RoleAnonymous),
			Row:       anyRow,
		},
	)
	return rules
}
