package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int

func newRouter(t *testing.T, fallback map[string][]string) (*Router, repository.RepositoryManager) {
	t.Helper()
	dbSeq++
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:routertest%d?mode=memory&cache=shared", dbSeq)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	repos := repository.NewGormRepositoryManager(db)
	return New(repos.SalesReps(), fallback), repos
}

func seedRep(t *testing.T, repos repository.RepositoryManager, userID, services, provinces string, active bool) {
	t.Helper()
	require.NoError(t, repos.SalesReps().Upsert(context.Background(), &domain.SalesRep{
		GHLUserID: userID,
		Name:      userID,
		Services:  services,
		Provinces: provinces,
		Active:    active,
	}))
}

func TestRepsFor_FiltersByServiceAndProvince(t *testing.T) {
	r, repos := newRouter(t, nil)
	ctx := context.Background()

	seedRep(t, repos, "U1", "Infissi", "RM,LT", true)
	seedRep(t, repos, "U2", "Infissi,Pergole", "RM", true)
	seedRep(t, repos, "U3", "Vetrate", "RM", true)
	seedRep(t, repos, "U4", "Infissi", "RM", false) // inactive

	reps, err := r.RepsFor(ctx, domain.ServiceInfissi, "RM")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, reps)

	reps, err = r.RepsFor(ctx, domain.ServicePergole, "MI")
	require.NoError(t, err)
	assert.Empty(t, reps)
}

func TestRepsFor_EmptyTableUsesFallbackPool(t *testing.T) {
	r, _ := newRouter(t, map[string][]string{"Infissi": {"F1", "F2"}})

	reps, err := r.RepsFor(context.Background(), domain.ServiceInfissi, "RM")
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F2"}, reps)
}

func TestRepsFor_PopulatedTableIgnoresFallback(t *testing.T) {
	r, repos := newRouter(t, map[string][]string{"Pergole": {"F1"}})
	seedRep(t, repos, "U1", "Infissi", "RM", true)

	// A populated table with no match must fail closed, not fall back.
	reps, err := r.RepsFor(context.Background(), domain.ServicePergole, "RM")
	require.NoError(t, err)
	assert.Empty(t, reps)
}
