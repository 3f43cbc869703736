// Package policy evaluates row-level access rules on Identity rows.
//
// The rule table mirrors the database's declarative row policies. For an
// (actor, operation, row) triple every rule whose operation, actor predicate
// and row predicate match is a candidate; the candidate with the highest
// tier decides:
//
//	service > self > staff > authenticated > anonymous
//
// No candidate means deny.
package policy

import (
	"fmt"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/model"
)

// Operation is the kind of access requested on a row.
type Operation string

const (
	OpRead   Operation = "read"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Role classifies the caller.
type Role int

const (
	RoleAnonymous Role = iota
	RoleAuthenticated
	RoleStaff
	RoleService
)

func (r Role) String() string {
	switch r {
	case RoleAnonymous:
		return "anonymous"
	case RoleAuthenticated:
		return "authenticated"
	case RoleStaff:
		return "staff"
	case RoleService:
		return "service"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Tier orders rules by specificity. Higher wins.
type Tier int

const (
	TierAnonymous Tier = iota + 1
	TierAuthenticated
	TierStaff
	TierSelf
	TierService
)

// Scope limits which columns a permitted read exposes.
type Scope int

const (
	// ScopeFull exposes the whole row.
	ScopeFull Scope = iota
	// ScopeCredentials exposes only what is needed to verify a login:
	// ID, email and password hash.
	ScopeCredentials
)

// Actor is the caller as the policy engine sees it.
type Actor struct {
	Role       Role
	IdentityID string // empty for anonymous and service actors
	Superuser  bool
}

// Anonymous is the actor of a session with no bound identity.
func Anonymous() Actor { return Actor{Role: RoleAnonymous} }

// Service is the backend-trusted actor. It bypasses row predicates.
func Service() Actor { return Actor{Role: RoleService} }

// ActorOf classifies a logged-in identity from its stored row. A nil
// identity (nobody logged in, or the row is gone) is anonymous.
func ActorOf(identity *model.Identity) Actor {
	if identity == nil || identity.ID == "" {
		return Anonymous()
	}
	role := RoleAuthenticated
	if identity.Privileged() {
		role = RoleStaff
	}
	return Actor{Role: role, IdentityID: identity.ID, Superuser: identity.IsSuperuser}
}

// Rule is one named permission.
type Rule struct {
	Name      string
	Operation Operation
	Tier      Tier
	Scope     Scope
	// Actor decides whether the rule applies to the caller.
	Actor func(Actor) bool
	// Row decides whether the rule applies to the target row. nil matches
	// every row, including a nil row (inserts).
	Row func(Actor, *model.Identity) bool
}

// Decision is the result of evaluating the rule table.
type Decision struct {
	Allowed bool
	Rule    string // name of the deciding rule, empty on default deny
	Scope   Scope
}

// Engine evaluates a fixed rule table.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over rules. Passing no rules uses DefaultRules.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Rules returns the rule table.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the decision for actor performing op on row. row is nil
// for inserts.
func (e *Engine) Evaluate(actor Actor, op Operation, row *model.Identity) Decision {
	var best *Rule
	for i := range e.rules {
		r := &e.rules[i]
		if r.Operation != op {
			continue
		}
		if r.Actor != nil && !r.Actor(actor) {
			continue
		}
		if r.Row != nil && !r.Row(actor, row) {
			continue
		}
		if best == nil || r.Tier > best.Tier {
			best = r
		}
	}
	if best == nil {
		return Decision{}
	}
	return Decision{Allowed: true, Rule: best.Name, Scope: best.Scope}
}

// Authorize is Evaluate turned into an error for denied requests.
func (e *Engine) Authorize(actor Actor, op Operation, row *model.Identity) (Decision, error) {
	d := e.Evaluate(actor, op, row)
	if !d.Allowed {
		return d, apperror.PermissionDenied(fmt.Sprintf("%s may not %s this identity", actor.Role, op))
	}
	return d, nil
}

// View projects row down to what decision permits. The returned value is a
// copy; row is not modified.
func View(d Decision, row *model.Identity) *model.Identity {
	if row == nil || !d.Allowed {
		return nil
	}
	out := *row
	if d.Scope == ScopeCredentials {
		out = model.Identity{
			ID:           row.ID,
			Email:        row.Email,
			PasswordHash: row.PasswordHash,
		}
	}
	return &out
}

// SanitizeUpdate returns proposed with the staff and superuser flags
// reverted to current's values unless actor may change them. Only the
// service actor, or a superuser editing someone else's row, may change flags.
// The second return value lists the reverted columns.
func (e *Engine) SanitizeUpdate(actor Actor, current, proposed *model.Identity) (*model.Identity, []string) {
	out := *proposed
	if canChangeFlags(actor, current) {
		return &out, nil
	}

	var reverted []string
	if out.IsStaff != current.IsStaff {
		out.IsStaff = current.IsStaff
		reverted = append(reverted, "is_staff")
	}
	if out.IsSuperuser != current.IsSuperuser {
		out.IsSuperuser = current.IsSuperuser
		reverted = append(reverted, "is_superuser")
	}
	return &out, reverted
}

func canChangeFlags(actor Actor, row *model.Identity) bool {
	switch {
	case actor.Role == RoleService:
		return true
	case actor.Role == RoleStaff && actor.Superuser:
		return row != nil && row.ID != actor.IdentityID
	}
	return false
}
