// Package reports folds per-user access records into organization-wide
// summaries for the external rendering layer. Pure reduction: no I/O, and
// the same input set yields the same summary regardless of record order.
package reports

import (
	"sort"

	"github.com/qualys/accessgraph/internal/models"
)

// DefaultHighRiskAccountFloor is the per-environment account count above
// which a cross-environment user counts as high risk.
const DefaultHighRiskAccountFloor = 5

type FlaggedUser struct {
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	Flags  []models.Flag `json:"flags"`
}

type OrgSummary struct {
	TotalUsers          int `json:"total_users"`
	TotalGroups         int `json:"total_groups"`
	TotalAccounts       int `json:"total_accounts"`
	TotalPermissionSets int `json:"total_permission_sets"`

	// A user reaching several environment classes contributes to each.
	EnvironmentDistribution map[models.Environment]int `json:"environment_distribution"`

	// Access-type coverage. An account accessible read-only to one user and
	// read-write to another counts in both buckets.
	UsersWithProdRW            int `json:"users_with_prod_rw"`
	UsersWithProdRO            int `json:"users_with_prod_ro"`
	UsersWithNonProdRW         int `json:"users_with_nonprod_rw"`
	UsersWithNonProdRO         int `json:"users_with_nonprod_ro"`
	UniqueProdRWAccounts       int `json:"unique_prod_rw_accounts"`
	UniqueProdROAccounts       int `json:"unique_prod_ro_accounts"`
	UniqueNonProdRWAccounts    int `json:"unique_nonprod_rw_accounts"`
	UniqueNonProdROAccounts    int `json:"unique_nonprod_ro_accounts"`
	UsersWithBothProdNonProdRW int `json:"users_with_both_prod_nonprod_rw"`

	UsersWithCrossEnvironment int `json:"users_with_cross_environment"`
	UsersWithAdministrative   int `json:"users_with_administrative"`
	UsersWithExtensiveAccess  int `json:"users_with_extensive_access"`
	HighRiskUsers             int `json:"high_risk_users"`

	FlaggedUsers []FlaggedUser `json:"flagged_users"`
	Warnings     int           `json:"warnings"`
}

type Aggregator struct {
	highRiskFloor int
}

func NewAggregator(highRiskFloor int) *Aggregator {
	if highRiskFloor <= 0 {
		highRiskFloor = DefaultHighRiskAccountFloor
	}
	return &Aggregator{highRiskFloor: highRiskFloor}
}

// Summarize reduces the records of one analysis run. Entity totals are
// deduplicated by id across all records; the flagged list is sorted by user
// id for reproducible output.
func (a *Aggregator) Summarize(records []models.AccessRecord) OrgSummary {
	summary := OrgSummary{
		EnvironmentDistribution: make(map[models.Environment]int),
	}

	users := make(map[string]bool)
	groups := make(map[string]bool)
	accounts := make(map[string]bool)
	permissionSets := make(map[string]bool)

	prodRW := make(map[string]bool)
	prodRO := make(map[string]bool)
	nonprodRW := make(map[string]bool)
	nonprodRO := make(map[string]bool)

	for _, record := range records {
		users[record.UserID] = true
		for _, g := range record.Groups {
			groups[g] = true
		}
		for ps := range record.PermissionSets {
			permissionSets[ps] = true
		}

		var hasProdRW, hasProdRO, hasNonProdRW, hasNonProdRO bool
		for _, acc := range record.Accounts {
			accounts[acc.AccountID] = true
			switch {
			case acc.Environment == models.EnvProduction && acc.ReadOnly():
				hasProdRO = true
				prodRO[acc.AccountID] = true
			case acc.Environment == models.EnvProduction:
				hasProdRW = true
				prodRW[acc.AccountID] = true
			case acc.Environment == models.EnvNonProduction && acc.ReadOnly():
				hasNonProdRO = true
				nonprodRO[acc.AccountID] = true
			case acc.Environment == models.EnvNonProduction:
				hasNonProdRW = true
				nonprodRW[acc.AccountID] = true
			}
		}
		if hasProdRW {
			summary.UsersWithProdRW++
		}
		if hasProdRO {
			summary.UsersWithProdRO++
		}
		if hasNonProdRW {
			summary.UsersWithNonProdRW++
		}
		if hasNonProdRO {
			summary.UsersWithNonProdRO++
		}
		if hasProdRW && hasNonProdRW {
			summary.UsersWithBothProdNonProdRW++
		}

		for env := range record.Environments() {
			summary.EnvironmentDistribution[env]++
		}

		if record.HasFlag(models.FlagCrossEnvironment) {
			summary.UsersWithCrossEnvironment++
			if a.isHighRisk(record) {
				summary.HighRiskUsers++
			}
		}
		if record.HasFlag(models.FlagAdministrative) {
			summary.UsersWithAdministrative++
		}
		if record.HasFlag(models.FlagExtensiveAccess) {
			summary.UsersWithExtensiveAccess++
		}

		if len(record.Flags) > 0 {
			summary.FlaggedUsers = append(summary.FlaggedUsers, FlaggedUser{
				UserID: record.UserID,
				Email:  record.Email,
				Flags:  record.Flags,
			})
		}

		summary.Warnings += len(record.Warnings)
	}

	summary.TotalUsers = len(users)
	summary.TotalGroups = len(groups)
	summary.TotalAccounts = len(accounts)
	summary.TotalPermissionSets = len(permissionSets)
	summary.UniqueProdRWAccounts = len(prodRW)
	summary.UniqueProdROAccounts = len(prodRO)
	summary.UniqueNonProdRWAccounts = len(nonprodRW)
	summary.UniqueNonProdROAccounts = len(nonprodRO)

	sort.Slice(summary.FlaggedUsers, func(i, j int) bool {
		return summary.FlaggedUsers[i].UserID < summary.FlaggedUsers[j].UserID
	})

	return summary
}

// isHighRisk counts only read-write accounts: broad read-only reach on both
// sides is not the blast radius this rule is after.
func (a *Aggregator) isHighRisk(record models.AccessRecord) bool {
	prod, nonprod := 0, 0
	for _, acc := range record.Accounts {
		if acc.ReadOnly() {
			continue
		}
		switch acc.Environment {
		case models.EnvProduction:
			prod++
		case models.EnvNonProduction:
			nonprod++
		}
	}
	return prod > a.highRiskFloor && nonprod > a.highRiskFloor
}
