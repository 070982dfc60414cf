package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/events"
	"bookline/internal/migrate"
	"bookline/internal/repo"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []domain.Notification
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n domain.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.got = append(d.got, n)
	return nil
}

type relayEnv struct {
	repo  repo.Repo
	clock *time.Time
}

func newRelayEnv(t *testing.T) relayEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return relayEnv{repo: repo.Repo{DB: conn}, clock: &clock}
}

func (env relayEnv) now() time.Time { return *env.clock }

func (env relayEnv) enqueue(t *testing.T, recipients ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := env.repo.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	w := events.Writer{Repo: env.repo, Now: env.now}
	require.NoError(t, w.Append(ctx, tx, events.Change{
		Type:       "booking.accepted",
		EntityKind: domain.KindBooking,
		EntityID:   "bk-1",
		ActorID:    "seller-1",
		OldStatus:  domain.BookingPending,
		NewStatus:  domain.BookingAccepted,
		Recipients: recipients,
	}))
	require.NoError(t, tx.Commit())
}

func (env relayEnv) relay(t *testing.T, d Dispatcher, maxAttempts int) *Relay {
	t.Helper()
	r, err := NewRelay(env.repo, d, RelayOptions{
		MaxAttempts: maxAttempts,
		JitterMax:   time.Millisecond,
		Rand:        rand.New(rand.NewSource(1)),
		Now:         env.now,
	})
	require.NoError(t, err)
	return r
}

func TestRelayDeliversAndAcks(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "buyer-1", domain.AdminInbox)
	d := &recordingDispatcher{}
	r := env.relay(t, d, 3)

	before := testutil.ToFloat64(getMetrics().dispatchTotal.WithLabelValues("booking.accepted", "success"))
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, d.got, 2)
	require.Equal(t, before+2, testutil.ToFloat64(getMetrics().dispatchTotal.WithLabelValues("booking.accepted", "success")))

	for _, got := range d.got {
		stored, err := env.repo.GetNotification(context.Background(), got.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.DeliveredAt)
		require.Equal(t, 1, stored.Attempts)
		// Delivery does not mark the inbox entry read.
		require.Nil(t, stored.ReadAt)
	}

	n, err = r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, d.got, 2)
}

func TestRelayBacksOffOnFailure(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "buyer-1")
	d := &recordingDispatcher{fail: errors.New("connection refused")}
	r := env.relay(t, d, 5)

	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	items, err := env.repo.ListNotifications(context.Background(), repo.NotificationFilters{RecipientIDs: []string{"buyer-1"}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	stored := items[0]
	require.Nil(t, stored.DeliveredAt)
	require.Nil(t, stored.DeadAt)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "connection refused", *stored.LastError)
	require.Greater(t, stored.AvailableAt, stamp(env.now()))

	// Not yet due.
	n, err = r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	d.fail = nil
	*env.clock = env.clock.Add(5 * time.Second)
	n, err = r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, d.got, 1)
	require.Equal(t, 2, d.got[0].Attempts)
}

func TestRelayGivesUpAfterMaxAttempts(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "seller-2")
	d := &recordingDispatcher{fail: errors.New("boom")}
	r := env.relay(t, d, 1)

	before := testutil.ToFloat64(getMetrics().deadTotal.WithLabelValues("booking.accepted"))
	_, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(getMetrics().deadTotal.WithLabelValues("booking.accepted")))

	items, err := env.repo.ListNotifications(context.Background(), repo.NotificationFilters{RecipientIDs: []string{"seller-2"}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].DeadAt)

	*env.clock = env.clock.Add(time.Hour)
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelayObservesQueueDepth(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "buyer-1", "seller-1")
	r := env.relay(t, &recordingDispatcher{}, 3)

	require.NoError(t, r.observeQueueDepth(context.Background()))
	require.Equal(t, float64(2), testutil.ToFloat64(getMetrics().pending))
	require.Equal(t, float64(0), testutil.ToFloat64(getMetrics().locked))
}

func TestNewRelayRequiresDispatcher(t *testing.T) {
	env := newRelayEnv(t)
	_, err := NewRelay(env.repo, nil, RelayOptions{})
	require.Error(t, err)
	_, err = NewRelay(repo.Repo{}, &recordingDispatcher{}, RelayOptions{})
	require.Error(t, err)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingDispatcher{}
	bad := &recordingDispatcher{fail: errors.New("down")}
	err := NewFanout(ok, nil, bad).Dispatch(context.Background(), domain.Notification{ID: 7})
	require.ErrorContains(t, err, "down")
	require.Len(t, ok.got, 1)
}

func TestFanoutRetriesOnlyFailedSink(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "buyer-1")
	socket := &recordingDispatcher{}
	hook := &recordingDispatcher{fail: errors.New("webhook down")}
	f := NewFanout(socket, hook)
	r := env.relay(t, f, 5)

	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, socket.got, 1)
	require.Equal(t, 1, f.pending())

	hook.mu.Lock()
	hook.fail = nil
	hook.mu.Unlock()
	*env.clock = env.clock.Add(time.Hour)
	n, err = r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, socket.got, 1, "delivered sink is not replayed")
	require.Len(t, hook.got, 1)
	require.Zero(t, f.pending())
}

func TestFanoutForgetsDeadNotifications(t *testing.T) {
	env := newRelayEnv(t)
	env.enqueue(t, "buyer-1")
	socket := &recordingDispatcher{}
	f := NewFanout(socket, &recordingDispatcher{fail: errors.New("webhook down")})
	r := env.relay(t, f, 1)

	_, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, socket.got, 1)
	require.Zero(t, f.pending())
}
