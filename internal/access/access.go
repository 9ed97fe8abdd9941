// Package access is the single source of truth for snippet access decisions.
//
// WHY ONE DECISION FUNCTION?
// The visibility/grant/organization rules interact, and they interact in a
// specific precedence order. Scattering "is the caller allowed?" checks
// across route handlers would mean every handler re-implements that order —
// and eventually one of them gets it wrong. Instead, every call site asks
// Decide() and acts on the answer.
//
// Decide is a pure function over snapshot data: it never touches the
// database, never logs, and has no side effects. The caller loads the
// snippet (with its grants) and the requester's identity, then asks for a
// verdict. That makes the entire rule table testable with plain structs.
package access

import (
	"github.com/snipsafe/snipsafe/internal/model"
)

// Operation is the action the requester wants to perform on a snippet.
type Operation string

const (
	OpRead          Operation = "read"
	OpUpdate        Operation = "update"
	OpDelete        Operation = "delete"
	OpManageSharing Operation = "manage_sharing"
	OpJoinPresence  Operation = "join_presence"
)

// Path records how the snippet was looked up. The distinction matters for
// private snippets: the share link is the intended distribution channel
// inside an organization, while browsing someone else's private snippet by
// its primary ID is not. Same snippet, same caller, different verdicts.
type Path int

const (
	ByID Path = iota
	ByShareID
)

// Requester is the resolved identity asking for access. The zero value is
// the anonymous requester.
type Requester struct {
	ID            string
	Email         string
	Organization  string
	Authenticated bool
}

// Anonymous returns the unauthenticated requester sentinel.
func Anonymous() Requester {
	return Requester{}
}

// Reason is the machine-checkable denial category.
//
// ReasonNotFound and ReasonForbidden are deliberately distinct: not_found
// hides the snippet's existence, forbidden confirms it. Callers must pass
// the reason through unchanged — upgrading one to the other leaks
// information (or hides a snippet the caller is allowed to know about).
type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonForbidden Reason = "forbidden"
)

// Decision is the tagged result of an access evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason // set only when Allowed is false
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Decide evaluates the access rules for one (snippet, requester, operation)
// triple. Rules are evaluated in order; the first match wins.
//
//  1. Soft-deleted snippet → not_found for everyone (existence hiding).
//  2. Owner → allowed, any operation.
//  3. manage_sharing and delete are strictly owner-only.
//  4. A grant naming the requester allows read/join; update needs an
//     edit grant. Grants are matched against the requester's CURRENT
//     identity — a pending email grant starts working as soon as a user
//     with that email exists.
//  5. public → read/join for anyone, anonymous included.
//  6. organization → read/join for authenticated same-org requesters.
//  7. private via the share link → read/join for authenticated same-org
//     requesters; private via direct ID without a grant → forbidden.
//  8. Everything else → forbidden.
func Decide(s *model.Snippet, req Requester, op Operation, path Path) Decision {
	// Rule 1: inactive means "does not exist" — for every operation, so a
	// non-owner probing a soft-deleted ID learns nothing.
	if s == nil || !s.Active {
		return deny(ReasonNotFound)
	}

	// Rule 2: the owner can do anything to their own snippet.
	if req.Authenticated && req.ID == s.OwnerID {
		return allow()
	}

	// Rule 3: ledger edits and deletion never extend past the owner,
	// regardless of visibility or grants.
	if op == OpManageSharing || op == OpDelete {
		return deny(ReasonForbidden)
	}

	// Rule 4: explicit share grants.
	if req.Authenticated {
		if g, ok := matchGrant(s.Grants, req); ok {
			switch op {
			case OpRead, OpJoinPresence:
				return allow()
			case OpUpdate:
				if g.Permission == model.PermissionEdit {
					return allow()
				}
			}
			// A view grant does not unlock update; fall through to the
			// visibility rules, which never allow update either.
		}
	}

	// Update beyond this point is never allowed — visibility tiers only
	// ever grant read/join.
	if op == OpUpdate {
		return deny(ReasonForbidden)
	}

	// Rule 5: public snippets are world-readable.
	if s.Visibility == model.VisibilityPublic {
		return allow()
	}

	// Rule 6: organization snippets are readable inside the org.
	if s.Visibility == model.VisibilityOrganization &&
		req.Authenticated && req.Organization == s.Organization {
		return allow()
	}

	// Rule 7: private snippets open through the share link for same-org
	// members. The direct-by-ID path stays closed — that asymmetry is the
	// point of having a separate share identifier.
	if s.Visibility == model.VisibilityPrivate && path == ByShareID &&
		req.Authenticated && req.Organization == s.Organization {
		return allow()
	}

	// Rule 8.
	return deny(ReasonForbidden)
}

// matchGrant finds a grant naming the requester. Resolved grants match by
// user ID; pending (email-only) grants match by the requester's current
// email address.
func matchGrant(grants []model.ShareGrant, req Requester) (model.ShareGrant, bool) {
	for _, g := range grants {
		if g.UserID != "" && g.UserID == req.ID {
			return g, true
		}
		if g.UserID == "" && g.Email != "" && g.Email == req.Email {
			return g, true
		}
	}
	return model.ShareGrant{}, false
}
