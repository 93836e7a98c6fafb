package repositories

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-chat/internal/db"
	"storefront-chat/internal/models"
)

// testDB connects to the database named by CHAT_TEST_DB__DSN and applies the schema.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_DB__DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_DB__DSN not set")
	}
	ctx := context.Background()
	conn, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

// testUsers returns n user ids unlikely to collide with other runs and removes their threads afterwards.
func testUsers(t *testing.T, conn *sqlx.DB, n int) []int {
	t.Helper()
	base := int(time.Now().UnixNano()%1_000_000_000)*10 + 1_000_000
	ids := make([]int, n)
	for i := range ids {
		ids[i] = base + i
	}
	t.Cleanup(func() {
		conn.Exec(`DELETE FROM chat_threads WHERE seller_id = ANY($1) OR buyer_id = ANY($1)`, pq.Array(ids))
	})
	return ids
}

func TestCreateOrGetConcurrentEitherOrder(t *testing.T) {
	conn := testDB(t)
	repo := NewThreadRepo(conn)
	ids := testUsers(t, conn, 2)
	a, b := ids[0], ids[1]

	const callers = 16
	threads := make([]models.Thread, callers)
	created := make([]bool, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seller, buyer := a, b
			if i%2 == 1 {
				seller, buyer = b, a
			}
			<-start
			threads[i], created[i], errs[i] = repo.CreateOrGet(context.Background(), seller, buyer)
		}(i)
	}
	close(start)
	wg.Wait()

	creators := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, threads[0].ID, threads[i].ID)
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	var pairs, participants int
	require.NoError(t, conn.Get(&pairs, `SELECT COUNT(*) FROM chat_threads
        WHERE (seller_id=$1 AND buyer_id=$2) OR (seller_id=$2 AND buyer_id=$1)`, a, b))
	require.NoError(t, conn.Get(&participants, `SELECT COUNT(*) FROM chat_participants WHERE thread_id=$1`, threads[0].ID))
	assert.Equal(t, 1, pairs)
	assert.Equal(t, 2, participants)
}

func TestCreateOrGetKeepsFirstRoles(t *testing.T) {
	conn := testDB(t)
	repo := NewThreadRepo(conn)
	ids := testUsers(t, conn, 2)
	ctx := context.Background()

	first, created, err := repo.CreateOrGet(ctx, ids[0], ids[1])
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := repo.CreateOrGet(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, ids[0], again.SellerID)
	assert.Equal(t, ids[1], again.BuyerID)
}

func TestListForUserOrdersByLastActivity(t *testing.T) {
	conn := testDB(t)
	repo := NewThreadRepo(conn)
	ids := testUsers(t, conn, 4)
	ctx := context.Background()
	me := ids[0]

	quiet, _, err := repo.CreateOrGet(ctx, me, ids[1])
	require.NoError(t, err)
	tiedLow, _, err := repo.CreateOrGet(ctx, me, ids[2])
	require.NoError(t, err)
	tiedHigh, _, err := repo.CreateOrGet(ctx, me, ids[3])
	require.NoError(t, err)

	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }
	setUpdated := func(threadID int, at time.Time) {
		_, err := conn.Exec(`UPDATE chat_threads SET updated_at=$2 WHERE id=$1`, threadID, at)
		require.NoError(t, err)
	}
	setUpdated(quiet.ID, day(1))
	setUpdated(tiedLow.ID, day(2))
	setUpdated(tiedHigh.ID, day(2))
	_, err = conn.Exec(`INSERT INTO chat_messages (thread_id, sender_id, body, created_at) VALUES ($1, $2, 'late', $3)`,
		quiet.ID, ids[1], day(3))
	require.NoError(t, err)

	list, err := repo.ListForUser(ctx, me, models.ThreadFilter{Role: models.RoleFilterAll, Archived: models.ArchivedInclude})
	require.NoError(t, err)

	got := make([]int, 0, len(list))
	for _, s := range list {
		got = append(got, s.ID)
	}
	assert.Equal(t, []int{quiet.ID, tiedHigh.ID, tiedLow.ID}, got)
	require.NotNil(t, list[0].LastText)
	assert.Equal(t, "late", *list[0].LastText)
	assert.Equal(t, 1, list[0].Unread)
}
