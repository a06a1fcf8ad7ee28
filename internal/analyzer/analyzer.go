// Package analyzer walks the committed access graph and flags toxic access
// combinations per user: cross-environment reach, administrative permission
// sets, and unusually broad account footprints.
package analyzer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qualys/accessgraph/internal/classifier"
	"github.com/qualys/accessgraph/internal/graph"
	"github.com/qualys/accessgraph/internal/models"
)

const (
	DefaultWorkers            = 10
	DefaultExtensiveThreshold = 10
)

// DefaultAdminPatterns match permission-set names that grant administrative
// privilege. Matching is a case-insensitive substring test.
var DefaultAdminPatterns = []string{
	"admin", "administrator", "poweruser", "fullaccess",
	"securityadmin", "systemadmin", "organizationadmin",
}

// DefaultReadOnlyPatterns match permission-set names that grant read-only
// access. Names matching none of them classify as read-write.
var DefaultReadOnlyPatterns = []string{
	"readonly", "read-only", "read_only", "viewer", "view-only", "-ro",
}

type Config struct {
	Workers int
	// MaxGroupDepth bounds transitive group membership; 0 means unbounded.
	// Cycles terminate either way via the visited set.
	MaxGroupDepth            int
	ExtensiveAccessThreshold int
	AdminPatterns            []string
	ReadOnlyPatterns         []string
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.ExtensiveAccessThreshold == 0 {
		c.ExtensiveAccessThreshold = DefaultExtensiveThreshold
	}
	if len(c.AdminPatterns) == 0 {
		c.AdminPatterns = DefaultAdminPatterns
	}
	if len(c.ReadOnlyPatterns) == 0 {
		c.ReadOnlyPatterns = DefaultReadOnlyPatterns
	}
}

func (c Config) Validate() error {
	if c.Workers < 0 {
		return &models.ConfigurationError{Field: "analyzer.workers", Msg: "must not be negative"}
	}
	if c.ExtensiveAccessThreshold < 0 {
		return &models.ConfigurationError{Field: "analyzer.extensive_access_threshold", Msg: "must not be negative"}
	}
	if c.MaxGroupDepth < 0 {
		return &models.ConfigurationError{Field: "analyzer.max_group_depth", Msg: "must not be negative"}
	}
	return nil
}

type Analyzer struct {
	store      graph.Store
	classifier *classifier.Classifier
	cfg        Config
}

// Result is the output of one analysis run. Records are ephemeral: callers
// aggregate them and let them go.
type Result struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []models.AccessRecord
}

func New(store graph.Store, cls *classifier.Classifier, cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Analyzer{store: store, classifier: cls, cfg: cfg}, nil
}

// Run analyzes a single user (by vertex id or email) or, with an empty
// target, every user in the graph. Per-user traversals are independent and
// fan out across a bounded worker pool; results are collected at a join
// point before returning.
func (a *Analyzer) Run(ctx context.Context, target string) (*Result, error) {
	result := &Result{RunID: uuid.New(), StartedAt: time.Now()}

	users, err := a.resolveScope(ctx, target)
	if err != nil {
		return nil, err
	}
	log.Printf("[analyzer] run %s: analyzing %d users with %d workers", result.RunID, len(users), a.cfg.Workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan models.Vertex)
	records := make(chan models.AccessRecord, len(users))
	errs := make(chan error, 1)

	var wg sync.WaitGroup
	for w := 0; w < a.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				record, err := a.analyzeUser(ctx, user)
				if err != nil {
					select {
					case errs <- err:
						cancel()
					default:
					}
					return
				}
				records <- record
			}
		}()
	}

	for _, user := range users {
		select {
		case jobs <- user:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(records)

	select {
	case err := <-errs:
		return nil, fmt.Errorf("analysis run %s: %w", result.RunID, err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for record := range records {
		result.Records = append(result.Records, record)
	}
	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].UserID < result.Records[j].UserID
	})

	result.FinishedAt = time.Now()
	return result, nil
}

func (a *Analyzer) resolveScope(ctx context.Context, target string) ([]models.Vertex, error) {
	if target == "" {
		users, err := a.store.VerticesByLabel(ctx, models.LabelUser)
		if err != nil {
			return nil, fmt.Errorf("enumerating users: %w", err)
		}
		return users, nil
	}

	if v, err := a.store.VertexByID(ctx, target); err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", target, err)
	} else if v != nil && v.Label == models.LabelUser {
		return []models.Vertex{*v}, nil
	}

	// Fall back to email and userId lookup.
	users, err := a.store.VerticesByLabel(ctx, models.LabelUser)
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", target, err)
	}
	for _, u := range users {
		if u.Properties[models.PropEmail] == target || u.Properties[models.PropUserID] == target {
			return []models.Vertex{u}, nil
		}
	}
	return nil, fmt.Errorf("no user matches %q", target)
}

// analyzeUser computes one AccessRecord. A user with no outgoing edges is
// not an error; an edge pointing at a missing vertex becomes a warning and
// is skipped rather than aborting the run.
func (a *Analyzer) analyzeUser(ctx context.Context, user models.Vertex) (models.AccessRecord, error) {
	record := models.AccessRecord{
		UserID:         user.ID,
		Email:          user.Properties[models.PropEmail],
		PermissionSets: make(map[string]string),
	}

	groups, err := a.collectGroups(ctx, user.ID, &record)
	if err != nil {
		return record, err
	}

	accounts := make(map[string]*models.AccountAccess)
	// Pending permission-set grants whose account vertex has not been seen
	// yet when the ASSIGNED_PERMISSION_SET edge is walked.
	pending := make(map[string][]string)

	principals := append([]string{user.ID}, groups...)
	for _, principal := range principals {
		edges, err := a.store.OutEdges(ctx, principal, models.EdgeHasAccount, models.EdgeAssignedPermissionSet)
		if err != nil {
			return record, fmt.Errorf("edges of %s: %w", principal, err)
		}
		for _, edge := range edges {
			targetVertex, err := a.store.VertexByID(ctx, edge.To)
			if err != nil {
				return record, fmt.Errorf("vertex %s: %w", edge.To, err)
			}
			if targetVertex == nil {
				record.Warnings = append(record.Warnings,
					fmt.Sprintf("%s edge from %s references missing vertex %s", edge.Label, principal, edge.To))
				continue
			}

			switch edge.Label {
			case models.EdgeHasAccount:
				if targetVertex.Label != models.LabelAccount {
					record.Warnings = append(record.Warnings,
						fmt.Sprintf("HAS_ACCOUNT edge from %s points at %s vertex %s", principal, targetVertex.Label, edge.To))
					continue
				}
				acc := accounts[targetVertex.ID]
				if acc == nil {
					acc = &models.AccountAccess{
						AccountID:   targetVertex.ID,
						AccountName: targetVertex.Properties[models.PropAccountName],
						Environment: a.classifier.Classify(targetVertex.Properties[models.PropEnvironmentTag]),
					}
					accounts[targetVertex.ID] = acc
				}
				if psID := edge.Properties[models.PropPermissionSetID]; psID != "" {
					acc.PermissionSetIDs = append(acc.PermissionSetIDs, psID)
				}
			case models.EdgeAssignedPermissionSet:
				if targetVertex.Label != models.LabelPermissionSet {
					record.Warnings = append(record.Warnings,
						fmt.Sprintf("ASSIGNED_PERMISSION_SET edge from %s points at %s vertex %s", principal, targetVertex.Label, edge.To))
					continue
				}
				record.PermissionSets[targetVertex.ID] = targetVertex.Properties[models.PropName]
				if accID := edge.Properties[models.PropAccountID]; accID != "" {
					if acc := accounts[accID]; acc != nil {
						acc.PermissionSetIDs = append(acc.PermissionSetIDs, targetVertex.ID)
					} else {
						pending[accID] = append(pending[accID], targetVertex.ID)
					}
				}
			}
		}
	}

	for accID, psIDs := range pending {
		if acc := accounts[accID]; acc != nil {
			acc.PermissionSetIDs = append(acc.PermissionSetIDs, psIDs...)
		}
	}

	record.Groups = groups
	sort.Strings(record.Groups)
	for _, acc := range accounts {
		acc.PermissionSetIDs = dedupeSorted(acc.PermissionSetIDs)
		acc.AccessType = a.accessType(acc.PermissionSetIDs, record.PermissionSets)
		record.Accounts = append(record.Accounts, *acc)
	}
	sort.Slice(record.Accounts, func(i, j int) bool {
		return record.Accounts[i].AccountID < record.Accounts[j].AccountID
	})

	record.Flags = a.flags(record)
	return record, nil
}

// collectGroups resolves transitive group membership breadth-first. The
// visited set is what makes cyclic membership chains terminate.
func (a *Analyzer) collectGroups(ctx context.Context, userID string, record *models.AccessRecord) ([]string, error) {
	visited := map[string]bool{userID: true}
	var groups []string

	frontier := []string{userID}
	for depth := 0; len(frontier) > 0; depth++ {
		if a.cfg.MaxGroupDepth > 0 && depth >= a.cfg.MaxGroupDepth {
			break
		}

		var next []string
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			edges, err := a.store.OutEdges(ctx, id, models.EdgeMemberOf)
			if err != nil {
				return nil, fmt.Errorf("memberships of %s: %w", id, err)
			}
			for _, edge := range edges {
				if visited[edge.To] {
					continue
				}
				visited[edge.To] = true

				group, err := a.store.VertexByID(ctx, edge.To)
				if err != nil {
					return nil, fmt.Errorf("vertex %s: %w", edge.To, err)
				}
				if group == nil {
					record.Warnings = append(record.Warnings,
						fmt.Sprintf("MEMBER_OF edge from %s references missing vertex %s", id, edge.To))
					continue
				}
				if group.Label != models.LabelGroup {
					record.Warnings = append(record.Warnings,
						fmt.Sprintf("MEMBER_OF edge from %s points at %s vertex %s", id, group.Label, edge.To))
					continue
				}
				groups = append(groups, group.ID)
				next = append(next, group.ID)
			}
		}
		frontier = next
	}

	return groups, nil
}

// flags evaluates the toxic-combination rules. The rules are independent:
// a user may carry any subset and no flag suppresses another.
func (a *Analyzer) flags(record models.AccessRecord) []models.Flag {
	var flags []models.Flag

	envs := record.Environments()
	if envs[models.EnvProduction] && envs[models.EnvNonProduction] {
		flags = append(flags, models.FlagCrossEnvironment)
	}

	for _, name := range record.PermissionSets {
		if matchesPattern(name, a.cfg.AdminPatterns) {
			flags = append(flags, models.FlagAdministrative)
			break
		}
	}

	if len(record.Accounts) > a.cfg.ExtensiveAccessThreshold {
		flags = append(flags, models.FlagExtensiveAccess)
	}

	return flags
}

// accessType classifies an account grant from its permission-set names. An
// account is read-only only when every resolvable permission set granting it
// is; grants with no permission-set information default to read-write.
func (a *Analyzer) accessType(psIDs []string, names map[string]string) models.AccessType {
	if len(psIDs) == 0 {
		return models.AccessReadWrite
	}
	for _, id := range psIDs {
		name, ok := names[id]
		if !ok || !matchesPattern(name, a.cfg.ReadOnlyPatterns) {
			return models.AccessReadWrite
		}
	}
	return models.AccessReadOnly
}

func matchesPattern(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func dedupeSorted(values []string) []string {
	if len(values) == 0 {
		return values
	}
	sort.Strings(values)
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
