//go:build integration

package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pulse/internal/core"
)

// startContainer runs image and returns host:port for the exposed port
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) }) //nolint:errcheck

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestPostgresStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pulse",
			"POSTGRES_PASSWORD": "pulse",
			"POSTGRES_DB":       "pulse",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432")
	dsn := fmt.Sprintf("postgres://pulse:pulse@%s/pulse?sslmode=disable", addr)

	runDatabaseContract(t, func(t *testing.T) Database {
		db, err := OpenDatabase(context.Background(), DriverPostgres, dsn, 5)
		if err != nil {
			t.Fatalf("OpenDatabase: %v", err)
		}
		// subtests share one server, so start each from empty tables
		store := db.(*SQLStore)
		if _, err := store.db.Exec(`TRUNCATE analysis_results, analysis_tasks`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestMongoStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}, "27017")

	ctx := context.Background()
	store, err := NewMongoStore(ctx, "mongodb://"+addr, "pulse_test")
	if err != nil {
		t.Fatalf("NewMongoStore: %v", err)
	}
	defer store.Close(ctx)

	rating := 5
	r := core.RawReview{
		TaskID:      "t1",
		Source:      "naver",
		NaturalKey:  "k1",
		RawText:     "국물이 진해요",
		Text:        "국물이 진해요",
		Rating:      &rating,
		CollectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := store.AppendReview(ctx, r); err != nil {
		t.Fatalf("AppendReview: %v", err)
	}
	dup := r
	dup.RawText = "changed"
	if err := store.AppendReview(ctx, dup); err != nil {
		t.Fatalf("duplicate insert should be ignored: %v", err)
	}

	got, err := store.Reviews(ctx, "t1")
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(got) != 1 || got[0].RawText != "국물이 진해요" || got[0].Rating == nil || *got[0].Rating != 5 {
		t.Errorf("unexpected reviews %+v", got)
	}

	for _, msg := range []string{"collecting", "normalizing"} {
		if err := store.AppendLog(ctx, core.TaskLog{TaskID: "t1", Level: "info", Message: msg}); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}
	logs, err := store.Logs(ctx, "t1")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "collecting" {
		t.Errorf("unexpected logs %+v", logs)
	}
}
