package integration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// SameSitePolicy decides how duplicates from a single platform are reconciled
type SameSitePolicy string

const (
	// SameSiteTrustLatest keeps the most recent order and marks the rest duplicates
	SameSiteTrustLatest SameSitePolicy = "trust_latest"
	// SameSiteDetectConflicts runs the conflict resolver like a cross-platform group
	SameSiteDetectConflicts SameSitePolicy = "detect_conflicts"
)

// ParseSameSitePolicy parses a policy name, defaulting to trust_latest when empty
func ParseSameSitePolicy(s string) (SameSitePolicy, error) {
	switch SameSitePolicy(s) {
	case "":
		return SameSiteTrustLatest, nil
	case SameSiteTrustLatest, SameSiteDetectConflicts:
		return SameSitePolicy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown same-platform policy %q", integration.ErrValidation, s)
	}
}

// matchWindow is how far apart two orders may be placed to match on email or phone
const matchWindow = time.Hour

// DedupReport summarizes one DetectAndResolve run
type DedupReport struct {
	DuplicateGroupsFound int                          `json:"duplicate_groups_found"`
	Resolved             int                          `json:"resolved"`
	ConflictsDetected    int                          `json:"conflicts_detected"`
	ManualReview         int                          `json:"manual_review"`
	Errors               []string                     `json:"errors,omitempty"`
	Conflicts            []integration.ConflictRecord `json:"conflicts,omitempty"`
}

// DeduplicationEngine finds orders that describe the same purchase and marks
// all but one of them as duplicates. Orders are modified in place.
type DeduplicationEngine struct {
	resolver *ConflictResolver
	policy   SameSitePolicy
	logger   *zap.Logger
}

// NewDeduplicationEngine creates an engine
func NewDeduplicationEngine(resolver *ConflictResolver, policy SameSitePolicy, logger *zap.Logger) *DeduplicationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = NewConflictResolver(logger)
	}
	if policy == "" {
		policy = SameSiteTrustLatest
	}
	return &DeduplicationEngine{
		resolver: resolver,
		policy:   policy,
		logger:   logger.Named("dedup_engine"),
	}
}

// DetectAndResolve groups candidate duplicates and reconciles every group.
// Orders already marked duplicate or held for manual review are not candidates,
// so running it twice over the same set finds nothing new.
func (e *DeduplicationEngine) DetectAndResolve(ctx context.Context, orders []*integration.CanonicalOrder) *DedupReport {
	report := &DedupReport{}

	candidates := make([]*integration.CanonicalOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil || o.DedupStatus == integration.DedupStatusDuplicate || o.DedupStatus == integration.DedupStatusManualReview {
			continue
		}
		candidates = append(candidates, o)
	}

	groups := groupCandidates(candidates)
	report.DuplicateGroupsFound = len(groups)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err.Error())
			break
		}
		members := make([]*integration.CanonicalOrder, len(group))
		for i, idx := range group {
			members[i] = candidates[idx]
		}

		if singlePlatform(members) && e.policy == SameSiteTrustLatest {
			e.resolveSamePlatform(members, report)
			continue
		}
		e.resolveWithConflicts(members, report)
	}

	e.logger.Info("deduplication finished",
		zap.Int("orders", len(orders)),
		zap.Int("candidates", len(candidates)),
		zap.Int("duplicate_groups", report.DuplicateGroupsFound),
		zap.Int("resolved", report.Resolved),
		zap.Int("conflicts", report.ConflictsDetected),
		zap.Int("manual_review", report.ManualReview),
	)
	return report
}

// resolveSamePlatform keeps the most recent order; later input wins a tie
func (e *DeduplicationEngine) resolveSamePlatform(members []*integration.CanonicalOrder, report *DedupReport) {
	primary := 0
	for i := 1; i < len(members); i++ {
		if !members[i].OrderDate.Before(members[primary].OrderDate) {
			primary = i
		}
	}
	for i, o := range members {
		if i == primary {
			continue
		}
		o.MarkDuplicateOf(members[primary])
		report.Resolved++
	}
}

// resolveWithConflicts compares every secondary against the primary
func (e *DeduplicationEngine) resolveWithConflicts(members []*integration.CanonicalOrder, report *DedupReport) {
	primary := pickPrimary(members)

	for _, secondary := range members {
		if secondary == primary {
			continue
		}
		conflicts := e.resolver.DetectConflicts(primary, secondary)
		report.ConflictsDetected += len(conflicts)

		if len(conflicts) == 0 {
			secondary.MarkDuplicateOf(primary)
			report.Resolved++
			continue
		}

		result := e.resolver.ResolveConflicts(primary, secondary, conflicts)
		for _, t := range integration.ConflictTypes {
			if rec, ok := result.Resolutions[t]; ok {
				report.Conflicts = append(report.Conflicts, *rec)
			}
		}

		if !result.Success {
			secondary.MarkManualReview(primary, fmt.Sprintf("unresolved %v", result.ManualReviewTypes()))
			report.ManualReview++
			continue
		}
		if err := ApplyResolutions(primary, result); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", secondary.Key(), err))
			secondary.MarkManualReview(primary, err.Error())
			report.ManualReview++
			continue
		}
		secondary.MarkDuplicateOf(primary)
		report.Resolved++
	}
}

// pickPrimary prefers the higher-priority platform, then the earliest order
func pickPrimary(members []*integration.CanonicalOrder) *integration.CanonicalOrder {
	best := members[0]
	for _, o := range members[1:] {
		switch {
		case o.Platform.Outranks(best.Platform):
			best = o
		case o.Platform == best.Platform || o.Platform.Priority() == best.Platform.Priority():
			if o.OrderDate.Before(best.OrderDate) {
				best = o
			}
		}
	}
	return best
}

func singlePlatform(members []*integration.CanonicalOrder) bool {
	for _, o := range members[1:] {
		if o.Platform != members[0].Platform {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Grouping
// ---------------------------------------------------------------------------

// groupCandidates returns groups of candidate indexes with at least two members,
// ordered by their smallest index
func groupCandidates(orders []*integration.CanonicalOrder) [][]int {
	uf := newUnionFind(len(orders))

	byKey := make(map[string]int)
	byEmail := make(map[string][]int)
	byPhone := make(map[string][]int)
	byNameAddress := make(map[string]int)

	for i, o := range orders {
		if first, ok := byKey[o.Key()]; ok {
			uf.union(first, i)
		} else {
			byKey[o.Key()] = i
		}

		if email := normalizeEmail(o.CustomerEmail); email != "" {
			byEmail[email] = append(byEmail[email], i)
		}
		if phone := normalizePhone(o.CustomerPhone); len(phone) >= minPhoneDigits {
			byPhone[phone] = append(byPhone[phone], i)
		}

		name, address := normalizeName(o.CustomerName), normalizeAddress(o.ShippingAddress)
		if name != "" && address != "" {
			key := name + "|" + address + "|" + o.TotalAmount.StringFixed(2)
			if first, ok := byNameAddress[key]; ok {
				uf.union(first, i)
			} else {
				byNameAddress[key] = i
			}
		}
	}

	pairWithinWindow(orders, byEmail, uf)
	pairWithinWindow(orders, byPhone, uf)

	members := make(map[int][]int)
	for i := range orders {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}
	groups := make([][]int, 0)
	for _, m := range members {
		if len(m) > 1 {
			groups = append(groups, m)
		}
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })
	return groups
}

// pairWithinWindow joins orders of one bucket placed less than an hour apart
// whose amounts do not conflict
func pairWithinWindow(orders []*integration.CanonicalOrder, buckets map[string][]int, uf *unionFind) {
	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		sorted := append([]int(nil), bucket...)
		sort.SliceStable(sorted, func(a, b int) bool {
			return orders[sorted[a]].OrderDate.Before(orders[sorted[b]].OrderDate)
		})
		for i, a := range sorted {
			for _, b := range sorted[i+1:] {
				if orders[b].OrderDate.Sub(orders[a].OrderDate) >= matchWindow {
					break
				}
				if AmountsCompatible(orders[a].TotalAmount, orders[b].TotalAmount) {
					uf.union(a, b)
				}
			}
		}
	}
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
