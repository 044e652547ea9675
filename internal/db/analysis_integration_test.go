//go:build integration

package db

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// These tests need a real postgres with the migrations applied. Point
// TEST_DB_HOST (and optionally TEST_DB_PORT, TEST_DB_USER, TEST_DB_PASSWORD,
// TEST_DB_NAME, TEST_DB_SSLMODE) at it and run with -tags integration.

func setupIntegrationDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set")
	}

	cfg := Config{
		Host:     host,
		Port:     5432,
		User:     "keywatch",
		Database: "keywatch_test",
		SSLMode:  "disable",
	}
	if v := os.Getenv("TEST_DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("invalid TEST_DB_PORT: %v", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("TEST_DB_USER"); v != "" {
		cfg.User = v
	}
	cfg.Password = os.Getenv("TEST_DB_PASSWORD")
	if v := os.Getenv("TEST_DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("TEST_DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}

	database, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(database.Close)

	return database
}

// seedSubscriptionRow creates the user and subscription rows an analysis
// result references, both cleaned up with the test.
func seedSubscriptionRow(t *testing.T, database *DB, userID int64) *Subscription {
	t.Helper()
	ctx := context.Background()

	if _, err := database.Pool().Exec(ctx,
		"INSERT INTO users (user_id, plan) VALUES ($1, 'free') ON CONFLICT DO NOTHING", userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	repo := NewSubscriptionRepository(database, zap.NewNop())
	sub := &Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		Query:            "аренда велосипеда",
		PositiveKeywords: []string{"велосипед"},
		Active:           true,
	}
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	t.Cleanup(func() {
		database.Pool().Exec(ctx, "DELETE FROM analysis_results WHERE subscription_id = $1", sub.ID)
		database.Pool().Exec(ctx, "DELETE FROM subscriptions WHERE id = $1", sub.ID)
		database.Pool().Exec(ctx, "DELETE FROM users WHERE user_id = $1", userID)
	})

	return sub
}

func countResults(t *testing.T, database *DB, sub *Subscription, messageID, groupID int64) int {
	t.Helper()
	var n int
	err := database.Pool().QueryRow(context.Background(),
		"SELECT COUNT(*) FROM analysis_results WHERE subscription_id = $1 AND message_id = $2 AND group_id = $3",
		sub.ID, messageID, groupID).Scan(&n)
	if err != nil {
		t.Fatalf("count results: %v", err)
	}
	return n
}

func TestAnalysisStore_ConcurrentSaveKeepsOneRow(t *testing.T) {
	database := setupIntegrationDB(t)
	sub := seedSubscriptionRow(t, database, time.Now().UnixNano())
	store := NewAnalysisStore(database, zap.NewNop())

	ctx := context.Background()
	const messageID, groupID = int64(5001), int64(-100123)

	score := 0.42
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Save(ctx, &AnalysisResult{
				SubscriptionID: sub.ID,
				MessageID:      messageID,
				GroupID:        groupID,
				UserID:         sub.UserID,
				Outcome:        OutcomeRejectedLexical,
				LexicalScore:   &score,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	if n := countResults(t, database, sub, messageID, groupID); n != 1 {
		t.Fatalf("expected exactly one row, got %d", n)
	}
}

func TestAnalysisStore_RedeliverySaveKeepsNotifiedAt(t *testing.T) {
	database := setupIntegrationDB(t)
	sub := seedSubscriptionRow(t, database, time.Now().UnixNano())
	store := NewAnalysisStore(database, zap.NewNop())

	ctx := context.Background()
	const messageID, groupID = int64(5002), int64(-100123)

	score := 0.88
	res := &AnalysisResult{
		SubscriptionID: sub.ID,
		MessageID:      messageID,
		GroupID:        groupID,
		UserID:         sub.UserID,
		Outcome:        OutcomeMatched,
		LexicalScore:   &score,
	}
	if err := store.Save(ctx, res); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	marked, err := store.MarkNotified(ctx, sub.ID, messageID, groupID, time.Now())
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !marked {
		t.Fatal("first mark should win")
	}

	again, err := store.MarkNotified(ctx, sub.ID, messageID, groupID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if again {
		t.Fatal("second mark must be a no-op")
	}

	// A redelivered message re-saves the result; the delivery timestamp
	// must survive.
	if err := store.Save(ctx, res); err != nil {
		t.Fatalf("redelivery save failed: %v", err)
	}

	stored, err := store.Get(ctx, sub.ID, messageID, groupID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored == nil || stored.NotifiedAt == nil {
		t.Fatal("notified_at must survive a redelivery save")
	}

	notified, err := store.IsNotifiedToUser(ctx, sub.UserID, messageID, groupID)
	if err != nil {
		t.Fatalf("notified check failed: %v", err)
	}
	if !notified {
		t.Fatal("user should read as notified")
	}
}
