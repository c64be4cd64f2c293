package lease

import (
	"testing"
	"time"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParseTTLSecondsDefault(t *testing.T) {
	got, err := ParseTTLSeconds(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultTTLSeconds {
		t.Errorf("got %d, want %d", got, DefaultTTLSeconds)
	}
}

func TestParseTTLSecondsOutOfRange(t *testing.T) {
	tooLow := MinTTLSeconds - 1
	if _, err := ParseTTLSeconds(&tooLow); err == nil {
		t.Error("expected error for TTL below minimum")
	}
	tooHigh := MaxTTLSeconds + 1
	if _, err := ParseTTLSeconds(&tooHigh); err == nil {
		t.Error("expected error for TTL above maximum")
	}
}

func TestParseExpiryRejectsBothSupplied(t *testing.T) {
	ttl := int64(60)
	ts := now.Add(time.Hour).Format(time.RFC3339)
	_, err := ParseExpiry(&ttl, &ts, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseBindingAmbiguous {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseBindingAmbiguous)
	}
}

func TestParseExpiryFallsBackToDefaultTTL(t *testing.T) {
	got, err := ParseExpiry(nil, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	want := now.Add(time.Duration(DefaultTTLSeconds) * time.Second)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseExpiryRejectsPastTimestamp(t *testing.T) {
	past := now.Add(-time.Hour).Format(time.RFC3339)
	_, err := ParseExpiry(nil, &past, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseInvalidExpiresAt {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseInvalidExpiresAt)
	}
}

func TestParseExpiryRejectsMalformedTimestamp(t *testing.T) {
	bad := "not-a-timestamp"
	_, err := ParseExpiry(nil, &bad, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseInvalidExpiresAt {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseInvalidExpiresAt)
	}
}

func TestParseExpiryExplicitFuture(t *testing.T) {
	future := now.Add(2 * time.Hour).Format(time.RFC3339)
	got, err := ParseExpiry(nil, &future, now)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("got %v, want %v", got, now.Add(2*time.Hour))
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice Smith", "alice_smith"},
		{"UPPER-case_1", "upper-case_1"},
		{"___", "anon"},
		{"", "anon"},
	}
	for _, tt := range tests {
		if got := Token(tt.in); got != tt.want {
			t.Errorf("Token(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveLeaseIDPrefersRaw(t *testing.T) {
	raw := "custom-lease"
	got := ResolveLeaseID(&raw, "issue-1", "alice")
	if got != "custom-lease" {
		t.Errorf("got %q, want %q", got, "custom-lease")
	}
}

func TestResolveLeaseIDDerivesDeterministically(t *testing.T) {
	a := ResolveLeaseID(nil, "issue-1", "Alice")
	b := ResolveLeaseID(nil, "issue-1", "Alice")
	if a != b {
		t.Errorf("expected deterministic derivation, got %q vs %q", a, b)
	}
	want := "lease1_issue-1_alice"
	if a != want {
		t.Errorf("got %q, want %q", a, want)
	}
}

func TestIsContended(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	if IsContended(issue, now) {
		t.Error("unleased issue should never be contended")
	}

	issue.Lease = &types.IssueLease{Owner: "alice", ExpiresAt: now.Add(-time.Minute)}
	if IsContended(issue, now) {
		t.Error("stale lease should not be contended")
	}

	issue.Lease = &types.IssueLease{Owner: "alice", ExpiresAt: now.Add(time.Hour)}
	issue.Status = types.StatusInProgress
	issue.Assignee = "alice"
	if IsContended(issue, now) {
		t.Error("active lease with matching assignee/status should not be contended")
	}

	issue.Assignee = "bob"
	if !IsContended(issue, now) {
		t.Error("active lease with drifted assignee should be contended")
	}

	issue.Assignee = "alice"
	issue.Status = types.StatusOpen
	if !IsContended(issue, now) {
		t.Error("active lease with status off in_progress should be contended")
	}
}

type fakeSource struct{ issues []*types.Issue }

func (f fakeSource) Issues() []*types.Issue { return f.issues }

func TestComputeClassifiesAndSorts(t *testing.T) {
	stale := types.NewIssue("z-stale", "t")
	stale.Lease = &types.IssueLease{ExpiresAt: now.Add(-time.Minute)}

	contended := types.NewIssue("a-contended", "t")
	contended.Lease = &types.IssueLease{Owner: "alice", ExpiresAt: now.Add(time.Hour)}
	contended.Assignee = "bob"
	contended.Status = types.StatusInProgress

	unleased := types.NewIssue("x-unleased", "t")

	proj := Compute(fakeSource{issues: []*types.Issue{stale, contended, unleased}}, now)

	if proj.StaleCount != 1 || proj.StaleIssueIDs[0] != "z-stale" {
		t.Errorf("stale = %+v", proj.StaleIssueIDs)
	}
	if proj.ContendedCount != 1 || proj.ContendedIssueIDs[0] != "a-contended" {
		t.Errorf("contended = %+v", proj.ContendedIssueIDs)
	}
}

func TestClaimFreshIssue(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	res, err := Claim(issue, ClaimRequest{Assignee: "alice"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Error("expected change")
	}
	if issue.Status != types.StatusInProgress || issue.Assignee != "alice" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Lease == nil || issue.Lease.Owner != "alice" {
		t.Errorf("lease = %+v", issue.Lease)
	}
}

func TestClaimRejectsEmptyAssignee(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	_, err := Claim(issue, ClaimRequest{Assignee: "  "}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseInvalidAssignee {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseInvalidAssignee)
	}
}

func TestClaimRejectsClosedIssue(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Status = types.StatusClosed
	_, err := Claim(issue, ClaimRequest{Assignee: "alice"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseIssueClosed {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseIssueClosed)
	}
}

func TestClaimRejectsActiveLeaseByOther(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "bob", ExpiresAt: now.Add(time.Hour)}
	issue.Status = types.StatusInProgress
	issue.Assignee = "bob"

	_, err := Claim(issue, ClaimRequest{Assignee: "alice"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseContentionActive {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseContentionActive)
	}
}

func TestClaimReclaimsStaleLeaseEvictingPreviousOwner(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "bob", ExpiresAt: now.Add(-time.Minute)}
	issue.Status = types.StatusInProgress
	issue.Assignee = "bob"

	res, err := Claim(issue, ClaimRequest{Assignee: "alice"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Error("expected change")
	}
	if issue.Assignee != "alice" || issue.Lease.Owner != "alice" {
		t.Errorf("issue = %+v", issue)
	}
}

func TestClaimRejectsUnleasedButAssignedToOther(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Assignee = "bob"
	_, err := Claim(issue, ClaimRequest{Assignee: "alice"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseContentionActive {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseContentionActive)
	}
}

func TestClaimSameOwnerReclaimIsNoOpWhenNothingChanges(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Status = types.StatusInProgress
	issue.Assignee = "alice"
	leaseID := "mylease"
	expiry := now.Add(time.Hour).Format(time.RFC3339)
	// A same-owner reclaim stamps renewedAt=now, so it is a no-op only when
	// the lease already carries that stamp and the same expiry.
	renewedAt := now
	issue.Lease = &types.IssueLease{LeaseID: leaseID, Owner: "alice", AcquiredAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour), RenewedAt: &renewedAt}

	res, err := Claim(issue, ClaimRequest{Assignee: "alice", RawLeaseID: &leaseID, LeaseExpiresAt: &expiry}, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("expected no-op claim to report unchanged")
	}
}

func TestRenewRequiresExactOwnerAndLeaseID(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Status = types.StatusInProgress
	issue.Assignee = "alice"
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", AcquiredAt: now, ExpiresAt: now.Add(time.Hour)}

	_, err := Renew(issue, RenewRequest{Assignee: "alice", LeaseID: "wrong-id"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseIDMismatch {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseIDMismatch)
	}

	_, err = Renew(issue, RenewRequest{Assignee: "mallory", LeaseID: "l1"}, now)
	class, ok = kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseOwnerMismatch {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseOwnerMismatch)
	}
}

func TestRenewRejectsStaleLease(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", ExpiresAt: now.Add(-time.Minute)}
	_, err := Renew(issue, RenewRequest{Assignee: "alice", LeaseID: "l1"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseStale {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseStale)
	}
}

func TestRenewRejectsMissingLease(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	_, err := Renew(issue, RenewRequest{Assignee: "alice", LeaseID: "l1"}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseMissing {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseMissing)
	}
}

func TestRenewExtendsExpiry(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Status = types.StatusInProgress
	issue.Assignee = "alice"
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Minute)}

	res, err := Renew(issue, RenewRequest{Assignee: "alice", LeaseID: "l1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Error("expected change")
	}
	if !issue.Lease.ExpiresAt.Equal(now.Add(time.Duration(DefaultTTLSeconds) * time.Second)) {
		t.Errorf("ExpiresAt = %v", issue.Lease.ExpiresAt)
	}
	if issue.Lease.RenewedAt == nil || !issue.Lease.RenewedAt.Equal(now) {
		t.Errorf("RenewedAt = %v", issue.Lease.RenewedAt)
	}
}

func TestReleaseClearsLeaseAndReopens(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Status = types.StatusInProgress
	issue.Assignee = "alice"
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", ExpiresAt: now.Add(time.Hour)}

	res, err := Release(issue, ReleaseRequest{}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Error("expected change")
	}
	if issue.Lease != nil || issue.Assignee != "" || issue.Status != types.StatusOpen {
		t.Errorf("issue = %+v", issue)
	}
}

func TestReleaseUnleasedIsNoOp(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	res, err := Release(issue, ReleaseRequest{}, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("expected no-op release to report unchanged")
	}
}

func TestReleaseUnleasedWithExpectationsErrors(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	owner := "alice"
	_, err := Release(issue, ReleaseRequest{ExpectedAssignee: &owner}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseMissing {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseMissing)
	}
}

func TestReleaseRejectsOwnerMismatch(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", ExpiresAt: now.Add(time.Hour)}
	owner := "bob"
	_, err := Release(issue, ReleaseRequest{ExpectedAssignee: &owner}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseOwnerMismatch {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseOwnerMismatch)
	}
}

func TestReleaseRejectsLeaseIDMismatch(t *testing.T) {
	issue := types.NewIssue("i1", "t")
	issue.Lease = &types.IssueLease{LeaseID: "l1", Owner: "alice", ExpiresAt: now.Add(time.Hour)}
	leaseID := "wrong"
	_, err := Release(issue, ReleaseRequest{ExpectedLeaseID: &leaseID}, now)
	class, ok := kerrors.ClassOf(err)
	if !ok || class != kerrors.LeaseIDMismatch {
		t.Errorf("class = %v, ok=%v, want %v", class, ok, kerrors.LeaseIDMismatch)
	}
}
