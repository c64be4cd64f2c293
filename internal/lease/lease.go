// Package lease implements the typed lease lifecycle: TTL/expiry parsing,
// lease id derivation, the claim/renew/release state transitions, and the
// fleet-wide lease projection (stale/contended issue ids) used by the
// ready and status views.
package lease

import (
	"sort"
	"strings"
	"time"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/types"
)

// TTL bounds and default, in seconds.
const (
	DefaultTTLSeconds = int64(3600)
	MinTTLSeconds     = int64(30)
	MaxTTLSeconds     = int64(86400)
)

// ParseTTLSeconds validates an optional caller-supplied TTL against
// [MinTTLSeconds, MaxTTLSeconds], substituting DefaultTTLSeconds when ttl
// is nil.
func ParseTTLSeconds(ttl *int64) (int64, error) {
	value := DefaultTTLSeconds
	if ttl != nil {
		value = *ttl
	}
	if value < MinTTLSeconds || value > MaxTTLSeconds {
		return 0, kerrors.Newf(kerrors.LeaseInvalidTTL,
			"lease_ttl_seconds must be in range [%d, %d]", MinTTLSeconds, MaxTTLSeconds)
	}
	return value, nil
}

// ParseExpiry resolves a lease's absolute expiry: exactly one of
// ttlSeconds or expiresAtRFC3339 may be supplied; supplying neither falls
// back to DefaultTTLSeconds from now, and supplying both is rejected as
// ambiguous. An explicit expiresAtRFC3339 must be a valid RFC3339
// timestamp strictly after now.
func ParseExpiry(ttlSeconds *int64, expiresAtRFC3339 *string, now time.Time) (time.Time, error) {
	trimmedExpiry := ""
	haveExpiry := false
	if expiresAtRFC3339 != nil {
		trimmedExpiry = strings.TrimSpace(*expiresAtRFC3339)
		haveExpiry = trimmedExpiry != ""
	}

	if ttlSeconds != nil && haveExpiry {
		return time.Time{}, kerrors.New(kerrors.LeaseBindingAmbiguous,
			"provide only one of leaseTtlSeconds or leaseExpiresAt")
	}

	if haveExpiry {
		parsed, err := time.Parse(time.RFC3339, trimmedExpiry)
		if err != nil {
			return time.Time{}, kerrors.New(kerrors.LeaseInvalidExpiresAt, "lease_expires_at must be RFC3339")
		}
		parsed = parsed.UTC()
		if !parsed.After(now) {
			return time.Time{}, kerrors.New(kerrors.LeaseInvalidExpiresAt, "lease_expires_at must be in the future")
		}
		return parsed, nil
	}

	ttl, err := ParseTTLSeconds(ttlSeconds)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(time.Duration(ttl) * time.Second), nil
}

// Token normalizes an arbitrary string into the lowercase alphanumeric
// (plus '-'/'_') vocabulary used inside derived lease and fiber ids,
// collapsing any other rune to '_' and trimming leading/trailing
// underscores. An all-invalid input yields "anon".
func Token(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	trimmed := strings.Trim(b.String(), "_")
	if trimmed == "" {
		return "anon"
	}
	return trimmed
}

// ResolveLeaseID returns raw trimmed and non-empty, or else derives
// "lease1_<token(issueID)>_<token(assignee)>" deterministically so the
// same (issue, assignee) pair always resolves to the same lease id absent
// an explicit override.
func ResolveLeaseID(raw *string, issueID, assignee string) string {
	if raw != nil {
		if trimmed := strings.TrimSpace(*raw); trimmed != "" {
			return trimmed
		}
	}
	return "lease1_" + Token(issueID) + "_" + Token(assignee)
}

// StateLabel is the wire-level string for an issue's lease state at now.
func StateLabel(issue *types.Issue, now time.Time) string {
	return string(issue.LeaseStateAt(now))
}

// IsContended reports whether an issue's active lease is in tension with
// its own working state: the lease has not yet expired, but the issue
// isn't actually checked out to the lease owner (status moved off
// in_progress, or the assignee drifted away from the lease owner).
func IsContended(issue *types.Issue, now time.Time) bool {
	if issue.Lease == nil {
		return false
	}
	if !issue.Lease.ExpiresAt.After(now) {
		return false
	}
	return issue.Status != types.StatusInProgress || issue.Assignee != issue.Lease.Owner
}

// Projection is the fleet-wide snapshot of stale and contended issue ids.
type Projection struct {
	CheckedAt         time.Time `json:"checkedAt"`
	StaleCount        int       `json:"staleCount"`
	StaleIssueIDs     []string  `json:"staleIssueIds"`
	ContendedCount    int       `json:"contendedCount"`
	ContendedIssueIDs []string  `json:"contendedIssueIds"`
}

// IssueSource is the minimal view over a store's issues that Compute
// needs, satisfied by *issuestore.Store without creating an import cycle
// between this package and issuestore.
type IssueSource interface {
	Issues() []*types.Issue
}

// Compute scans every issue in source and classifies its lease state at
// now into the stale and contended buckets, each returned in sorted issue
// id order for determinism.
func Compute(source IssueSource, now time.Time) Projection {
	var stale, contended []string
	for _, issue := range source.Issues() {
		switch issue.LeaseStateAt(now) {
		case types.LeaseStale:
			stale = append(stale, issue.ID)
		case types.LeaseActive:
			if IsContended(issue, now) {
				contended = append(contended, issue.ID)
			}
		case types.LeaseUnleased:
		}
	}
	sort.Strings(stale)
	sort.Strings(contended)
	return Projection{
		CheckedAt:         now,
		StaleCount:        len(stale),
		StaleIssueIDs:     stale,
		ContendedCount:    len(contended),
		ContendedIssueIDs: contended,
	}
}

// ClaimRequest is the input to Claim.
type ClaimRequest struct {
	Assignee         string
	RawLeaseID       *string
	LeaseTTLSeconds  *int64
	LeaseExpiresAt   *string
}

// ApplyResult reports what a lease transition actually did, so callers
// can skip write-witness attachment and projection refresh on a no-op.
type ApplyResult struct {
	Changed bool
}

// Claim assigns issue to req.Assignee and opens (or re-opens, if stale)
// its lease. A stale existing lease is cleared first — and if it still
// names a different assignee, that assignee is evicted — before contention
// is re-evaluated against req.Assignee, matching a reclaim-after-timeout
// policy rather than a first-writer-wins one. An unexpired lease held by a
// different owner, or an unleased issue already assigned to someone else,
// is rejected as lease_contention_active. Closed issues cannot be claimed.
func Claim(issue *types.Issue, req ClaimRequest, now time.Time) (ApplyResult, error) {
	if issue.Status == types.StatusClosed {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseIssueClosed, "cannot claim closed issue: %s", issue.ID)
	}

	assignee := strings.TrimSpace(req.Assignee)
	if assignee == "" {
		return ApplyResult{}, kerrors.New(kerrors.LeaseInvalidAssignee, "assignee is required")
	}

	leaseID := ResolveLeaseID(req.RawLeaseID, issue.ID, assignee)
	expiresAt, err := ParseExpiry(req.LeaseTTLSeconds, req.LeaseExpiresAt, now)
	if err != nil {
		return ApplyResult{}, err
	}

	changed := false

	if issue.LeaseStateAt(now) == types.LeaseStale {
		issue.Lease = nil
		changed = true
		if issue.Status == types.StatusInProgress {
			issue.Status = types.StatusOpen
		}
		if issue.Assignee != "" && issue.Assignee != assignee {
			issue.Assignee = ""
		}
	}

	if active := issue.Lease; active != nil && active.ExpiresAt.After(now) && active.Owner != assignee {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseContentionActive,
			"issue already leased: %s (owner=%s, lease_id=%s)", issue.ID, active.Owner, active.LeaseID)
	}

	if issue.Lease == nil && issue.Assignee != "" && issue.Assignee != assignee {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseContentionActive,
			"issue already claimed: %s (assignee=%s)", issue.ID, issue.Assignee)
	}

	if issue.Assignee != assignee {
		issue.Assignee = assignee
		changed = true
	}
	if issue.Status != types.StatusInProgress {
		issue.Status = types.StatusInProgress
		changed = true
	}

	var next *types.IssueLease
	if existing := issue.Lease; existing != nil && existing.Owner == assignee && existing.LeaseID == leaseID {
		renewedAt := now
		next = &types.IssueLease{
			LeaseID: leaseID, Owner: assignee, AcquiredAt: existing.AcquiredAt,
			ExpiresAt: expiresAt, RenewedAt: &renewedAt,
		}
	} else {
		next = &types.IssueLease{LeaseID: leaseID, Owner: assignee, AcquiredAt: now, ExpiresAt: expiresAt}
	}

	if !issue.Lease.Equal(next) {
		issue.Lease = next
		changed = true
	}

	if changed {
		issue.TouchUpdatedAt(now)
	}
	return ApplyResult{Changed: changed}, nil
}

// RenewRequest is the input to Renew.
type RenewRequest struct {
	Assignee        string
	LeaseID         string
	LeaseTTLSeconds *int64
	LeaseExpiresAt  *string
}

// Renew extends an already-active lease, requiring the caller to name the
// exact current owner and lease id (unlike Claim, which can take over a
// stale or unowned lease). A stale or missing lease, or an owner/id
// mismatch, is rejected rather than silently reassigned.
func Renew(issue *types.Issue, req RenewRequest, now time.Time) (ApplyResult, error) {
	if issue.Status == types.StatusClosed {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseIssueClosed, "cannot renew lease on closed issue: %s", issue.ID)
	}

	assignee := strings.TrimSpace(req.Assignee)
	if assignee == "" {
		return ApplyResult{}, kerrors.New(kerrors.LeaseInvalidAssignee, "assignee is required")
	}
	leaseID := strings.TrimSpace(req.LeaseID)
	if leaseID == "" {
		return ApplyResult{}, kerrors.New(kerrors.LeaseIDMismatch, "lease_id is required")
	}

	current := issue.Lease
	if current == nil {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseMissing, "issue has no lease: %s", issue.ID)
	}
	if !current.ExpiresAt.After(now) {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseStale, "lease is stale and must be reclaimed: %s", issue.ID)
	}
	if current.Owner != assignee {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseOwnerMismatch,
			"lease owner mismatch for %s (expected=%s, got=%s)", issue.ID, current.Owner, assignee)
	}
	if current.LeaseID != leaseID {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseIDMismatch,
			"lease_id mismatch for %s (expected=%s, got=%s)", issue.ID, current.LeaseID, leaseID)
	}

	expiresAt, err := ParseExpiry(req.LeaseTTLSeconds, req.LeaseExpiresAt, now)
	if err != nil {
		return ApplyResult{}, err
	}

	changed := false
	if issue.Assignee != assignee {
		issue.Assignee = assignee
		changed = true
	}
	if issue.Status != types.StatusInProgress {
		issue.Status = types.StatusInProgress
		changed = true
	}

	renewedAt := now
	renewed := &types.IssueLease{
		LeaseID: leaseID, Owner: assignee, AcquiredAt: current.AcquiredAt,
		ExpiresAt: expiresAt, RenewedAt: &renewedAt,
	}
	if !issue.Lease.Equal(renewed) {
		issue.Lease = renewed
		changed = true
	}

	if changed {
		issue.TouchUpdatedAt(now)
	}
	return ApplyResult{Changed: changed}, nil
}

// ReleaseRequest is the input to Release. ExpectedAssignee and
// ExpectedLeaseID are optional guards: when supplied they must match the
// current lease exactly, or the release is rejected.
type ReleaseRequest struct {
	ExpectedAssignee *string
	ExpectedLeaseID  *string
}

// Release clears an issue's lease and assignee, reopening it if it was
// in_progress. Releasing an already-unleased issue is a no-op unless the
// caller supplied an expected assignee/lease id (in which case the
// absence of a lease is itself an error).
func Release(issue *types.Issue, req ReleaseRequest, now time.Time) (ApplyResult, error) {
	changed := false

	if issue.Lease == nil {
		if req.ExpectedAssignee != nil || req.ExpectedLeaseID != nil {
			return ApplyResult{}, kerrors.Newf(kerrors.LeaseMissing, "issue has no lease: %s", issue.ID)
		}
		return ApplyResult{}, nil
	}

	current := issue.Lease
	if req.ExpectedAssignee != nil && current.Owner != *req.ExpectedAssignee {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseOwnerMismatch,
			"lease owner mismatch for %s (expected=%s, got=%s)", issue.ID, current.Owner, *req.ExpectedAssignee)
	}
	if req.ExpectedLeaseID != nil && current.LeaseID != *req.ExpectedLeaseID {
		return ApplyResult{}, kerrors.Newf(kerrors.LeaseIDMismatch,
			"lease_id mismatch for %s (expected=%s, got=%s)", issue.ID, current.LeaseID, *req.ExpectedLeaseID)
	}

	issue.Lease = nil
	changed = true

	if issue.Assignee != "" {
		issue.Assignee = ""
	}
	if issue.Status == types.StatusInProgress {
		issue.Status = types.StatusOpen
	}
	issue.TouchUpdatedAt(now)

	return ApplyResult{Changed: changed}, nil
}
