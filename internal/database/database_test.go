package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/models"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sale(commune, typeLocal, day string, value, surface float64) models.Transaction {
	p := value / surface
	return models.Transaction{
		CodeDepartement:   "75",
		CodeCommune:       commune,
		Commune:           "PARIS",
		TypeLocal:         typeLocal,
		DateMutation:      date(day),
		ValeurFonciere:    f64(value),
		SurfaceReelleBati: f64(surface),
		PrixM2:            &p,
	}
}

func TestTestDBsAreIsolated(t *testing.T) {
	a := setupTestDB(t)
	b := setupTestDB(t)

	require.NoError(t, InsertTransactions(a.GetDB(), []models.Transaction{sale("101", "Appartement", "2023-06-01", 100000, 50)}))

	countsA, err := a.Counts(context.Background())
	require.NoError(t, err)
	countsB, err := b.Counts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), countsA["dvf_transactions"])
	assert.Equal(t, int64(0), countsB["dvf_transactions"])
}

func TestListTransactionsFilters(t *testing.T) {
	db := setupTestDB(t)
	rows := []models.Transaction{
		sale("101", "Appartement", "2023-06-01", 100000, 50),
		sale("101", "Maison", "2023-07-01", 300000, 100),
		sale("102", "Appartement", "2023-08-01", 250000, 50),
		{CodeDepartement: "75", CodeCommune: "101", TypeLocal: "Appartement"},
	}
	require.NoError(t, InsertTransactions(db.GetDB(), rows))
	ctx := context.Background()

	all, err := db.ListTransactions(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3, "rows without a value are not listed")
	assert.Equal(t, "102", all[0].CodeCommune, "most recent first")

	byCommune, err := db.ListTransactions(ctx, models.TransactionFilter{CodeCommune: "101", TypeLocal: "Appartement"})
	require.NoError(t, err)
	require.Len(t, byCommune, 1)

	byPrice, err := db.ListTransactions(ctx, models.TransactionFilter{MinPrice: f64(200000)})
	require.NoError(t, err)
	assert.Len(t, byPrice, 2)

	byDate, err := db.ListTransactions(ctx, models.TransactionFilter{StartDate: "2023-07-01", EndDate: "2023-07-31"})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, "Maison", byDate[0].TypeLocal)

	limited, err := db.ListTransactions(ctx, models.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestExistingRowHashes(t *testing.T) {
	db := setupTestDB(t)
	a := sale("101", "Appartement", "2023-06-01", 100000, 50)
	a.RowHash = "aaa"
	b := sale("101", "Appartement", "2023-06-01", 100000, 50)
	b.RowHash = "bbb"
	require.NoError(t, InsertTransactions(db.GetDB(), []models.Transaction{a, b}))

	found, err := ExistingRowHashes(db.GetDB(), []string{"aaa", "ccc"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "aaa")
}

func TestUpsertCommunes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := []models.Commune{{Code: "75056", Nom: "Paris", CodeDepartement: "75", CodeRegion: "11", Population: intp(2100000)}}
	require.NoError(t, db.GetDB().Transaction(func(tx *gorm.DB) error { return UpsertCommunes(tx, first) }))

	second := []models.Commune{{Code: "75056", Nom: "Paris", CodeDepartement: "75", CodeRegion: "11", Population: intp(2200000)}}
	require.NoError(t, db.GetDB().Transaction(func(tx *gorm.DB) error { return UpsertCommunes(tx, second) }))

	communes, err := db.ListCommunes(ctx, models.CommuneFilter{})
	require.NoError(t, err)
	require.Len(t, communes, 1)
	assert.Equal(t, 2200000, *communes[0].Population)

	c, err := db.GetCommune(ctx, "75056")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Paris", c.Nom)

	missing, err := db.GetCommune(ctx, "99999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReplaceAnalysisReplacesGroups(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	row := models.MarketAnalysis{
		CodeDepartement: "75", CodeCommune: "101", CodeInsee: "75101",
		Period: "2023-06", TypeLocal: "Appartement",
		AvgPriceM2: 3000, TransactionCount: 2,
	}
	other := row
	other.TypeLocal = "Maison"

	require.NoError(t, db.GetDB().Transaction(func(tx *gorm.DB) error {
		return ReplaceAnalysis(tx, []models.MarketAnalysis{row, other})
	}))

	row.AvgPriceM2 = 3500
	row.TransactionCount = 3
	require.NoError(t, db.GetDB().Transaction(func(tx *gorm.DB) error {
		return ReplaceAnalysis(tx, []models.MarketAnalysis{row})
	}))

	rows, err := db.ListMarketAnalysis(ctx, models.MarketFilter{CodeCommune: "101"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byType := map[string]models.MarketAnalysisView{}
	for _, r := range rows {
		byType[r.TypeLocal] = r
	}
	assert.Equal(t, 3500.0, byType["Appartement"].AvgPriceM2)
	assert.Equal(t, 3, byType["Appartement"].TransactionCount)
	assert.Equal(t, 3000.0, byType["Maison"].AvgPriceM2)
}

func TestListMarketAnalysisJoinsCommune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertCommunes(db.GetDB(), []models.Commune{{Code: "75101", Nom: "Paris 1er", Longitude: f64(2.34), Latitude: f64(48.86)}}))
	require.NoError(t, ReplaceAnalysis(db.GetDB(), []models.MarketAnalysis{
		{CodeDepartement: "75", CodeCommune: "101", CodeInsee: "75101", Period: "2023-05", TypeLocal: "Appartement"},
		{CodeDepartement: "75", CodeCommune: "101", CodeInsee: "75101", Period: "2023-06", TypeLocal: "Appartement"},
	}))

	rows, err := db.ListMarketAnalysis(ctx, models.MarketFilter{CodeCommune: "101", PeriodStart: "2023-06"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].CommuneNom)
	assert.Equal(t, "Paris 1er", *rows[0].CommuneNom)
	assert.Equal(t, 48.86, *rows[0].CommuneLatitude)

	latest, err := db.LatestMarketByCommune(ctx, "Appartement", "")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "2023-06", latest[0].Period)
}

func TestDepartmentStats(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, InsertTransactions(db.GetDB(), []models.Transaction{
		sale("101", "Appartement", "2023-06-01", 100000, 50),
		sale("102", "Appartement", "2023-06-02", 300000, 50),
		sale("101", "Maison", "2023-06-03", 400000, 100),
	}))

	stats, err := db.DepartmentStats(context.Background(), "75")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Appartement", stats[0].TypeLocal)
	assert.Equal(t, int64(2), stats[0].TransactionCount)
	assert.Equal(t, 200000.0, *stats[0].AvgPrice)
	assert.Equal(t, 4000.0, *stats[0].AvgPriceM2)
	assert.Equal(t, 400000.0, *stats[0].TotalVolume)
}

func TestInvestmentOpportunities(t *testing.T) {
	db := setupTestDB(t)
	var rows []models.Transaction
	// averages per m2: 101 -> 2000, 102 -> 3000, 104 -> 4000; 103 has too few sales
	for i := 0; i < 5; i++ {
		rows = append(rows, sale("101", "Appartement", "2023-06-01", 100000, 50))
		rows = append(rows, sale("102", "Appartement", "2023-06-01", 150000, 50))
		rows = append(rows, sale("104", "Appartement", "2023-06-01", 200000, 50))
	}
	rows = append(rows, sale("103", "Appartement", "2023-06-01", 50000, 50))
	require.NoError(t, InsertTransactions(db.GetDB(), rows))
	require.NoError(t, UpsertCommunes(db.GetDB(), []models.Commune{{Code: "75102", Nom: "Paris 2e", Population: intp(21000)}}))

	opps, err := db.InvestmentOpportunities(context.Background(), OpportunityQuery{
		TypeLocal:  "Appartement",
		BudgetMax:  250000,
		PriceM2Max: 5000,
	})
	require.NoError(t, err)
	// the cheapest commune sits under the 5th percentile floor (2100)
	require.Len(t, opps, 2)

	assert.Equal(t, "75102", opps[0].Code)
	assert.Equal(t, "Paris 2e", opps[0].Name)
	assert.Equal(t, 21000, opps[0].Population)
	assert.Equal(t, 3000.0, opps[0].AvgPriceM2)
	assert.Equal(t, 5, opps[0].TransactionCount)
	assert.Equal(t, 60.0, opps[0].BudgetRatio)
	assert.Equal(t, 60.0, opps[0].PriceM2Ratio)

	assert.Equal(t, "75104", opps[1].Code)
	assert.Equal(t, "PARIS", opps[1].Name, "falls back to the transaction commune name")

	capped, err := db.InvestmentOpportunities(context.Background(), OpportunityQuery{
		TypeLocal:  "Appartement",
		BudgetMax:  250000,
		PriceM2Max: 3500,
	})
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "75102", capped[0].Code)
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u := &models.User{Username: "alice", HashedPassword: "x", IsActive: true}
	require.NoError(t, db.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)

	err := db.CreateUser(ctx, &models.User{Username: "alice", HashedPassword: "y"})
	var validationErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	got, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.TouchLastLogin(ctx, u.ID, now))
	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, now.Equal(*got.LastLogin))

	none, err := db.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUserManagement(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := &models.User{Username: "alice", HashedPassword: "x", IsActive: true}
	bob := &models.User{Username: "bob", HashedPassword: "x", IsActive: true}
	require.NoError(t, db.CreateUser(ctx, alice))
	require.NoError(t, db.CreateUser(ctx, bob))

	off := false
	updated, err := db.UpdateUser(ctx, bob.ID, models.UserChanges{IsActive: &off})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.IsActive)

	active, err := db.ListUsers(ctx, models.UserFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].Username)

	all, err := db.ListUsers(ctx, models.UserFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	paged, err := db.ListUsers(ctx, models.UserFilter{IncludeInactive: true, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "bob", paged[0].Username)

	email := "alice@example.com"
	on := true
	updated, err = db.UpdateUser(ctx, alice.ID, models.UserChanges{Email: &email, IsAdmin: &on})
	require.NoError(t, err)
	require.NotNil(t, updated.Email)
	assert.Equal(t, email, *updated.Email)
	assert.True(t, updated.IsAdmin)
	assert.True(t, updated.IsActive, "untouched fields are kept")

	_, err = db.UpdateUser(ctx, bob.ID, models.UserChanges{Email: &email})
	var validationErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validationErr, "email is unique")

	cleared := ""
	updated, err = db.UpdateUser(ctx, alice.ID, models.UserChanges{Email: &cleared})
	require.NoError(t, err)
	assert.Nil(t, updated.Email)

	missing, err := db.UpdateUser(ctx, 999, models.UserChanges{IsAdmin: &on})
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := db.SetPassword(ctx, alice.ID, "new-hash")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := db.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.HashedPassword)

	ok, err = db.SetPassword(ctx, 999, "new-hash")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.DeleteUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.DeleteUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureAdmin(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.EnsureAdmin(ctx, "root", "hash-1")
	require.NoError(t, err)
	assert.True(t, created)

	root, err := db.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.True(t, root.IsAdmin)
	assert.True(t, root.IsActive)

	off := false
	_, err = db.UpdateUser(ctx, root.ID, models.UserChanges{IsActive: &off, IsAdmin: &off})
	require.NoError(t, err)

	created, err = db.EnsureAdmin(ctx, "root", "hash-2")
	require.NoError(t, err)
	assert.False(t, created)

	root, err = db.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.True(t, root.IsAdmin, "existing account is promoted")
	assert.True(t, root.IsActive, "existing account is reactivated")
	assert.Equal(t, "hash-1", root.HashedPassword, "existing password is kept")
}

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError("x", nil))

	var storageErr *apperr.StorageError
	assert.ErrorAs(t, MapError("commit", gorm.ErrInvalidTransaction), &storageErr)
	assert.Equal(t, "commit", storageErr.Op)
}
