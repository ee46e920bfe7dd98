package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"glowscan_go_backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

var quotaColumns = []string{"id", "user_id", "model_tier", "day", "count", "updated_at"}

func expectQuotaConsume(mock sqlmock.Sqlmock, inserted bool, storedDay string, storedCount int64, wantCount int64, wantDay string) {
	mock.ExpectBegin()
	insertRows := sqlmock.NewRows([]string{"id"})
	if inserted {
		insertRows.AddRow(1)
	}
	mock.ExpectQuery(`INSERT INTO "quota_counters" .* ON CONFLICT DO NOTHING`).WillReturnRows(insertRows)
	mock.ExpectQuery(`SELECT \* FROM "quota_counters" WHERE user_id = \$1 AND model_tier = \$2 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(quotaColumns).
			AddRow(1, "u1", TierBasicVision, storedDay, storedCount, time.Now()))
	mock.ExpectExec(`UPDATE "quota_counters" SET "count"=\$1,"day"=\$2,"updated_at"=\$3 WHERE "id" = \$4`).
		WithArgs(wantCount, wantDay, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestQuotaServiceDBConsume(t *testing.T) {
	const today = "2024-05-02"
	const yesterday = "2024-05-01"

	tests := []struct {
		name        string
		inserted    bool
		storedDay   string
		storedCount int64
		limit       int64
		wantUsed    int64
		wantAllowed bool
		wantDay     string
	}{
		{"first use creates the counter", true, today, 0, 3, 1, true, today},
		{"under the limit", false, today, 2, 3, 3, true, today},
		{"at the limit", false, today, 3, 3, 3, false, today},
		{"unlimited", false, today, 500, Unlimited, 501, true, today},
		{"new day starts from zero", false, yesterday, 3, 3, 1, true, today},
		{"rollover is saved on denial", false, yesterday, 2, 0, 0, false, today},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := NewQuotaServiceDB(db)
			expectQuotaConsume(mock, tt.inserted, tt.storedDay, tt.storedCount, tt.wantUsed, tt.wantDay)

			used, allowed, err := store.Consume(context.Background(), "u1", TierBasicVision, today, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUsed, used)
			assert.Equal(t, tt.wantAllowed, allowed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestQuotaServiceDBConsumeRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewQuotaServiceDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "quota_counters"`).WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, allowed, err := store.Consume(context.Background(), "u1", TierBasicVision, "2024-05-02", 3)
	assert.Error(t, err)
	assert.False(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaServiceDBPeek(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewQuotaServiceDB(db)

	mock.ExpectQuery(`SELECT \* FROM "quota_counters" WHERE user_id = \$1 AND model_tier = \$2`).
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow(1, "u1", TierBasicVision, "2024-05-02", 2, time.Now()))
	used, err := store.Peek(context.Background(), "u1", TierBasicVision, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)

	mock.ExpectQuery(`SELECT \* FROM "quota_counters" WHERE user_id = \$1 AND model_tier = \$2`).
		WillReturnRows(sqlmock.NewRows(quotaColumns).AddRow(1, "u1", TierBasicVision, "2024-05-01", 2, time.Now()))
	used, err = store.Peek(context.Background(), "u1", TierBasicVision, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used, "a counter from another day reads as zero")

	mock.ExpectQuery(`SELECT \* FROM "quota_counters"`).WillReturnRows(sqlmock.NewRows(quotaColumns))
	used, err = store.Peek(context.Background(), "u2", TierBasicVision, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	assert.NoError(t, mock.ExpectationsWereMet())
}

var conversationColumns = []string{"id", "owner_user_id", "title", "message_count", "last_message_at", "created_at", "updated_at", "deleted_at"}
var messageColumns = []string{"id", "conversation_id", "created_at", "seq", "sender", "kind", "content"}

func newMockConversationStore(t *testing.T, now time.Time) (*DefaultConversationService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	store := NewConversationServiceDB(db, 30).(*DefaultConversationService)
	store.now = func() time.Time { return now }
	return store, mock
}

func TestConversationServiceDBFirstAppendSetsTitle(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	store, mock := newMockConversationStore(t, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow("conv-1", "u1", "", 0, time.Time{}, now.Add(-time.Minute), now.Add(-time.Minute), nil))
	mock.ExpectExec(`INSERT INTO "messages"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "conversations" SET "last_message_at"=\$1,"message_count"=\$2,"title"=\$3,"updated_at"=\$4 WHERE`).
		WithArgs(now, int64(1), "How do I fix dry skin?", sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg := &models.Message{Sender: models.SenderUser, Kind: models.KindText, Content: "How do I fix dry skin?"}
	conv, err := store.AppendMessage(context.Background(), "conv-1", msg)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, now, msg.CreatedAt)
	assert.Equal(t, "How do I fix dry skin?", conv.Title)
	assert.Equal(t, int64(1), conv.MessageCount)
	assert.Equal(t, now, conv.LastMessageAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationServiceDBLaterAppendKeepsTitle(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	// The clock stalls: the previous message was stored at the same instant.
	store, mock := newMockConversationStore(t, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(conversationColumns).
			AddRow("conv-1", "u1", "First question", 1, now, now, now, nil))
	mock.ExpectExec(`INSERT INTO "messages"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "conversations" SET "last_message_at"=\$1,"message_count"=\$2,"updated_at"=\$3 WHERE`).
		WithArgs(sqlmock.AnyArg(), int64(2), sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg := &models.Message{Sender: models.SenderAI, Kind: models.KindText, Content: "Second answer"}
	conv, err := store.AppendMessage(context.Background(), "conv-1", msg)
	require.NoError(t, err)

	assert.Equal(t, int64(2), msg.Seq)
	assert.True(t, msg.CreatedAt.After(now), "created_at stays strictly increasing")
	assert.Equal(t, "First question", conv.Title)
	assert.Equal(t, int64(2), conv.MessageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationServiceDBAppendUnknownConversation(t *testing.T) {
	store, mock := newMockConversationStore(t, time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(conversationColumns))
	mock.ExpectRollback()

	_, err := store.AppendMessage(context.Background(), "missing", &models.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationServiceDBListOrderedPages(t *testing.T) {
	base := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	store, mock := newMockConversationStore(t, base)

	first := sqlmock.NewRows(messageColumns)
	for i := 1; i <= messagePageSize; i++ {
		first.AddRow(fmt.Sprintf("m%d", i), "conv-1", base.Add(time.Duration(i)*time.Millisecond), i, "user", "text", "hi")
	}
	last := messagePageSize + 1
	second := sqlmock.NewRows(messageColumns).
		AddRow(fmt.Sprintf("m%d", last), "conv-1", base.Add(time.Duration(last)*time.Millisecond), last, "ai", "text", "bye")

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE conversation_id = \$1 ORDER BY created_at asc, seq asc LIMIT`).
		WillReturnRows(first)
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE conversation_id = \$1 AND \(created_at, seq\) > \(\$2, \$3\) ORDER BY created_at asc, seq asc LIMIT`).
		WillReturnRows(second)

	messages, err := store.ListOrdered(context.Background(), "conv-1").Collect()
	require.NoError(t, err)
	require.Len(t, messages, last)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, int64(last), messages[last-1].Seq)
	assert.Equal(t, "bye", messages[last-1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationServiceDBListOrderedEmptyAndUnknown(t *testing.T) {
	store, mock := newMockConversationStore(t, time.Now())

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE conversation_id = \$1`).WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "conversations" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	_, err := store.ListOrdered(context.Background(), "empty").Next()
	assert.Equal(t, iterator.Done, err)

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE conversation_id = \$1`).WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "conversations" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	_, err = store.ListOrdered(context.Background(), "missing").Next()
	assert.ErrorIs(t, err, ErrConversationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserServiceDBSetPlan(t *testing.T) {
	db, mock := newMockDB(t)
	users := NewUserServiceDB(db)
	now := time.Now()

	mock.ExpectExec(`UPDATE "users" SET "plan_id"=\$1,"updated_at"=\$2 WHERE id = \$3`).
		WithArgs(PlanPremium, sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "active", "authenticated", "created_at", "updated_at"}).
			AddRow("u1", PlanPremium, true, false, now, now))

	user, err := users.SetPlan(context.Background(), "u1", PlanPremium)
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, user.PlanID)

	mock.ExpectExec(`UPDATE "users" SET "plan_id"=\$1,"updated_at"=\$2 WHERE id = \$3`).
		WithArgs(PlanFree, sqlmock.AnyArg(), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = users.SetPlan(context.Background(), "ghost", PlanFree)
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
