package data

import (
	"database/sql"
	"testing"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

func TestJobRepo_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	testutil.SkipIfNoTestDB(t)

	runJobStoreContract(t, func(t *testing.T, tp TimeProvider) contractStore {
		db := testutil.SetupTestDB(t)
		t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
		return NewJobRepo(db, RepoConfig{TimeProvider: tp})
	})
}

func TestJobRepo_NonUUIDIDs(t *testing.T) {
	// Non-UUID ids are rejected before reaching the database.
	repo := NewJobRepo((*sql.DB)(nil), RepoConfig{})
	ctx := t.Context()

	_, err := repo.GetByID(ctx, "not-a-uuid")
	if err != ErrJobNotFound {
		t.Fatalf("GetByID error = %v, want ErrJobNotFound", err)
	}
	ok, err := repo.TryLease(ctx, model.LeaseRequest{ID: "not-a-uuid", Expected: model.JobStatusPending, New: model.JobStatusRunning})
	if err != nil || ok {
		t.Fatalf("TryLease = %v, %v; want false, nil", ok, err)
	}
}
