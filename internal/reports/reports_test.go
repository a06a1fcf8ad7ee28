package reports

import (
	"reflect"
	"testing"

	"github.com/qualys/accessgraph/internal/models"
)

func sampleRecords() []models.AccessRecord {
	return []models.AccessRecord{
		{
			UserID: "u-1",
			Email:  "alice@example.com",
			Groups: []string{"g-1", "g-2"},
			Accounts: []models.AccountAccess{
				{AccountID: "a-1", Environment: models.EnvProduction},
				{AccountID: "a-2", Environment: models.EnvNonProduction},
			},
			PermissionSets: map[string]string{"ps-1": "AdministratorAccess"},
			Flags:          []models.Flag{models.FlagCrossEnvironment, models.FlagAdministrative},
		},
		{
			UserID: "u-2",
			Email:  "bob@example.com",
			Groups: []string{"g-1"},
			Accounts: []models.AccountAccess{
				{AccountID: "a-1", Environment: models.EnvProduction},
			},
			PermissionSets: map[string]string{"ps-2": "ReadOnlyAccess"},
			Warnings:       []string{"HAS_ACCOUNT edge from u-2 references missing vertex a-9"},
		},
		{
			UserID: "u-3",
			Email:  "carol@example.com",
			Accounts: []models.AccountAccess{
				{AccountID: "a-3", Environment: models.EnvOther},
			},
			PermissionSets: map[string]string{},
		},
	}
}

func TestAggregator_Summarize(t *testing.T) {
	summary := NewAggregator(0).Summarize(sampleRecords())

	if summary.TotalUsers != 3 {
		t.Errorf("TotalUsers = %d, want 3", summary.TotalUsers)
	}
	if summary.TotalGroups != 2 {
		t.Errorf("TotalGroups = %d, want 2 (g-1 shared)", summary.TotalGroups)
	}
	if summary.TotalAccounts != 3 {
		t.Errorf("TotalAccounts = %d, want 3 (a-1 shared)", summary.TotalAccounts)
	}
	if summary.TotalPermissionSets != 2 {
		t.Errorf("TotalPermissionSets = %d, want 2", summary.TotalPermissionSets)
	}
	if summary.UsersWithCrossEnvironment != 1 {
		t.Errorf("UsersWithCrossEnvironment = %d, want 1", summary.UsersWithCrossEnvironment)
	}
	if summary.UsersWithAdministrative != 1 {
		t.Errorf("UsersWithAdministrative = %d, want 1", summary.UsersWithAdministrative)
	}
	if summary.Warnings != 1 {
		t.Errorf("Warnings = %d, want 1", summary.Warnings)
	}

	wantDist := map[models.Environment]int{
		models.EnvProduction:    2,
		models.EnvNonProduction: 1,
		models.EnvOther:         1,
	}
	if !reflect.DeepEqual(summary.EnvironmentDistribution, wantDist) {
		t.Errorf("EnvironmentDistribution = %v, want %v", summary.EnvironmentDistribution, wantDist)
	}

	if len(summary.FlaggedUsers) != 1 || summary.FlaggedUsers[0].UserID != "u-1" {
		t.Errorf("FlaggedUsers = %v, want only u-1", summary.FlaggedUsers)
	}
}

func TestAggregator_OrderIndependent(t *testing.T) {
	agg := NewAggregator(0)
	records := sampleRecords()

	forward := agg.Summarize(records)

	reversed := make([]models.AccessRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	backward := agg.Summarize(reversed)

	if !reflect.DeepEqual(forward, backward) {
		t.Errorf("summary depends on record order:\nforward:  %+v\nbackward: %+v", forward, backward)
	}
}

func TestAggregator_FlaggedUsersSorted(t *testing.T) {
	records := []models.AccessRecord{
		{UserID: "u-z", Flags: []models.Flag{models.FlagAdministrative}},
		{UserID: "u-a", Flags: []models.Flag{models.FlagExtensiveAccess}},
		{UserID: "u-m", Flags: []models.Flag{models.FlagCrossEnvironment}},
	}

	summary := NewAggregator(0).Summarize(records)
	for i, want := range []string{"u-a", "u-m", "u-z"} {
		if summary.FlaggedUsers[i].UserID != want {
			t.Errorf("FlaggedUsers[%d] = %s, want %s", i, summary.FlaggedUsers[i].UserID, want)
		}
	}
}

func TestAggregator_HighRisk(t *testing.T) {
	manyAccounts := func(prod, nonprod int) []models.AccountAccess {
		var accounts []models.AccountAccess
		for i := 0; i < prod; i++ {
			accounts = append(accounts, models.AccountAccess{
				AccountID: "p" + string(rune('0'+i)), Environment: models.EnvProduction,
			})
		}
		for i := 0; i < nonprod; i++ {
			accounts = append(accounts, models.AccountAccess{
				AccountID: "n" + string(rune('0'+i)), Environment: models.EnvNonProduction,
			})
		}
		return accounts
	}

	tests := []struct {
		name   string
		record models.AccessRecord
		want   int
	}{
		{
			"broad cross-environment reach",
			models.AccessRecord{
				UserID:   "u-1",
				Accounts: manyAccounts(3, 3),
				Flags:    []models.Flag{models.FlagCrossEnvironment},
			},
			1,
		},
		{
			"cross-environment but narrow",
			models.AccessRecord{
				UserID:   "u-1",
				Accounts: manyAccounts(1, 1),
				Flags:    []models.Flag{models.FlagCrossEnvironment},
			},
			0,
		},
		{
			"broad but not flagged cross-environment",
			models.AccessRecord{
				UserID:   "u-1",
				Accounts: manyAccounts(3, 3),
			},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := NewAggregator(2).Summarize([]models.AccessRecord{tt.record})
			if summary.HighRiskUsers != tt.want {
				t.Errorf("HighRiskUsers = %d, want %d", summary.HighRiskUsers, tt.want)
			}
		})
	}
}

func TestAggregator_HighRiskIgnoresReadOnly(t *testing.T) {
	accounts := func(prod, nonprod int, at models.AccessType) []models.AccountAccess {
		var out []models.AccountAccess
		for i := 0; i < prod; i++ {
			out = append(out, models.AccountAccess{
				AccountID: "p" + string(rune('0'+i)), Environment: models.EnvProduction, AccessType: at,
			})
		}
		for i := 0; i < nonprod; i++ {
			out = append(out, models.AccountAccess{
				AccountID: "n" + string(rune('0'+i)), Environment: models.EnvNonProduction, AccessType: at,
			})
		}
		return out
	}

	tests := []struct {
		name     string
		accounts []models.AccountAccess
		want     int
	}{
		{
			"broad read-write reach",
			accounts(3, 3, models.AccessReadWrite),
			1,
		},
		{
			"broad reach but all read-only",
			accounts(3, 3, models.AccessReadOnly),
			0,
		},
		{
			"read-write narrow, read-only broad",
			append(accounts(1, 1, models.AccessReadWrite), accounts(3, 3, models.AccessReadOnly)...),
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := models.AccessRecord{
				UserID:   "u-1",
				Accounts: tt.accounts,
				Flags:    []models.Flag{models.FlagCrossEnvironment},
			}
			summary := NewAggregator(2).Summarize([]models.AccessRecord{record})
			if summary.HighRiskUsers != tt.want {
				t.Errorf("HighRiskUsers = %d, want %d", summary.HighRiskUsers, tt.want)
			}
		})
	}
}

func TestAggregator_AccessTypeStats(t *testing.T) {
	records := []models.AccessRecord{
		{
			UserID: "u-1",
			Accounts: []models.AccountAccess{
				{AccountID: "a-1", Environment: models.EnvProduction, AccessType: models.AccessReadWrite},
				{AccountID: "a-2", Environment: models.EnvNonProduction, AccessType: models.AccessReadWrite},
			},
		},
		{
			UserID: "u-2",
			Accounts: []models.AccountAccess{
				{AccountID: "a-1", Environment: models.EnvProduction, AccessType: models.AccessReadOnly},
				{AccountID: "a-3", Environment: models.EnvNonProduction, AccessType: models.AccessReadOnly},
			},
		},
		{
			UserID: "u-3",
			Accounts: []models.AccountAccess{
				{AccountID: "a-4", Environment: models.EnvProduction, AccessType: models.AccessReadWrite},
			},
		},
	}

	summary := NewAggregator(0).Summarize(records)

	checks := []struct {
		name string
		got  int
		want int
	}{
		{"UsersWithProdRW", summary.UsersWithProdRW, 2},
		{"UsersWithProdRO", summary.UsersWithProdRO, 1},
		{"UsersWithNonProdRW", summary.UsersWithNonProdRW, 1},
		{"UsersWithNonProdRO", summary.UsersWithNonProdRO, 1},
		{"UniqueProdRWAccounts", summary.UniqueProdRWAccounts, 2},
		{"UniqueProdROAccounts", summary.UniqueProdROAccounts, 1},
		{"UniqueNonProdRWAccounts", summary.UniqueNonProdRWAccounts, 1},
		{"UniqueNonProdROAccounts", summary.UniqueNonProdROAccounts, 1},
		{"UsersWithBothProdNonProdRW", summary.UsersWithBothProdNonProdRW, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestAggregator_EmptyInput(t *testing.T) {
	summary := NewAggregator(0).Summarize(nil)
	if summary.TotalUsers != 0 || len(summary.FlaggedUsers) != 0 {
		t.Errorf("empty input should produce zero summary, got %+v", summary)
	}
}
