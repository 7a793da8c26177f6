package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/domain"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/notify"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/observability"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/store"
)

type statusUpdate struct {
	messageID string
	status    domain.Status
}

type fakeStore struct {
	mu        sync.Mutex
	saved     map[string]*domain.Message
	updates   []statusUpdate
	members   map[string][]string
	names     map[string]string
	usernames map[string]string

	existsErr  error
	saveErr    error
	updateErr  error
	membersErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		saved:     make(map[string]*domain.Message),
		members:   make(map[string][]string),
		names:     make(map[string]string),
		usernames: make(map[string]string),
	}
}

func (s *fakeStore) MessageExists(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.saved[messageID]
	return ok, nil
}

func (s *fakeStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.saved[msg.MessageID]; ok {
		return nil
	}
	copied := *msg
	s.saved[msg.MessageID] = &copied
	return nil
}

func (s *fakeStore) UpdateMessageStatus(ctx context.Context, messageID, conversationID string, sentAt time.Time, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, statusUpdate{messageID: messageID, status: status})
	if msg, ok := s.saved[messageID]; ok {
		msg.Status = status
	}
	return nil
}

func (s *fakeStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.membersErr != nil {
		return nil, s.membersErr
	}
	return s.members[groupID], nil
}

func (s *fakeStore) GetGroupName(ctx context.Context, groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[groupID], nil
}

func (s *fakeStore) GetUsername(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usernames[userID], nil
}

type fakeRouter struct {
	shouldRoute bool
	routeResult bool
	routed      []domain.MessageEvent
}

func (r *fakeRouter) ShouldRoute(recipientID string) bool { return r.shouldRoute }

func (r *fakeRouter) Route(ctx context.Context, ev domain.MessageEvent) bool {
	r.routed = append(r.routed, ev)
	return r.routeResult
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []notify.NewMessageNotification
	err       error
}

func (n *fakeNotifier) PublishNewMessage(ctx context.Context, notification notify.NewMessageNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, notification)
	return nil
}

type fixture struct {
	store    *fakeStore
	router   *fakeRouter
	notifier *fakeNotifier
	proc     *Processor

	deliverCalls int
	deliverErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		router:   &fakeRouter{},
		notifier: &fakeNotifier{},
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	deliver := func(ctx context.Context, ev domain.MessageEvent) error {
		f.deliverCalls++
		return f.deliverErr
	}
	f.proc = New(f.store, f.router, f.notifier, deliver, metrics, zap.NewNop())
	return f
}

func directEvent() domain.MessageEvent {
	return domain.MessageEvent{
		MessageID:      "m1",
		ConversationID: "direct_user_alice_user_bob",
		SenderID:       "user_alice",
		Content:        "hi",
		Timestamp:      time.Now().UnixMilli(),
		EventType:      domain.EventTypeMessageSent,
	}
}

func TestProcess_EndToEndDirect(t *testing.T) {
	f := newFixture(t)

	handled, err := f.proc.Process(context.Background(), directEvent())
	require.NoError(t, err)
	assert.True(t, handled)

	msg, ok := f.store.saved["m1"]
	require.True(t, ok, "message should be persisted")
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	require.Len(t, f.store.updates, 1)
	assert.Equal(t, domain.StatusDelivered, f.store.updates[0].status)

	require.Len(t, f.notifier.published, 1)
	n := f.notifier.published[0]
	assert.Equal(t, "user_bob", n.RecipientID)
	assert.Equal(t, "m1", n.MessageID)
	assert.Equal(t, "user_alice", n.SenderID)
	assert.Empty(t, n.GroupName)
}

func TestProcess_Idempotency(t *testing.T) {
	f := newFixture(t)
	ev := directEvent()

	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, handled)

	handled, err = f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, handled, "duplicate should not be handled")

	assert.Len(t, f.store.saved, 1, "a message id is stored at most once")
	assert.Len(t, f.notifier.published, 1, "a duplicate never notifies twice")
}

func TestProcess_GroupFanOut(t *testing.T) {
	f := newFixture(t)
	f.store.members["group_g1"] = []string{"user_x", "user_y", "user_z"}
	f.store.names["group_g1"] = "study group"
	f.store.usernames["user_y"] = "Yara"

	ev := domain.MessageEvent{
		MessageID:      "m2",
		ConversationID: "group_g1",
		SenderID:       "user_y",
		Content:        "hello all",
		Timestamp:      time.Now().UnixMilli(),
	}
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, handled)

	recipients := make(map[string]bool)
	for _, n := range f.notifier.published {
		recipients[n.RecipientID] = true
		assert.Equal(t, "study group", n.GroupName)
		assert.Equal(t, "Yara", n.SenderUsername)
	}
	assert.Equal(t, map[string]bool{"user_x": true, "user_z": true}, recipients,
		"every member except the sender receives exactly one notification")
}

func TestProcess_PersistenceFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = store.ErrSaveFailed

	handled, err := f.proc.Process(context.Background(), directEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrSaveFailed)
	assert.False(t, handled)
	assert.Empty(t, f.notifier.published, "no side effects on persistence failure")
	assert.Zero(t, f.deliverCalls)
}

func TestProcess_RoutedEndsProcessing(t *testing.T) {
	f := newFixture(t)
	f.router.shouldRoute = true
	f.router.routeResult = true

	ev := directEvent()
	ev.RecipientID = "whatsapp:+5511999999999"
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	require.Len(t, f.router.routed, 1)
	assert.Equal(t, "whatsapp:+5511999999999", f.router.routed[0].RecipientID)
	assert.Zero(t, f.deliverCalls, "routed events skip local delivery")
	assert.Empty(t, f.store.updates, "status stays SENT, connector owns the continuation")
	assert.Equal(t, domain.StatusSent, f.store.saved["m1"].Status)
	assert.Empty(t, f.notifier.published)
}

func TestProcess_RoutingFallbackToLocal(t *testing.T) {
	f := newFixture(t)
	f.router.shouldRoute = true
	f.router.routeResult = false

	ev := directEvent()
	ev.RecipientID = "whatsapp:+5511999999999"
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Equal(t, 1, f.deliverCalls, "routing failure falls back to local delivery")
	require.Len(t, f.store.updates, 1)
	assert.Equal(t, domain.StatusDelivered, f.store.updates[0].status)
	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, "whatsapp:+5511999999999", f.notifier.published[0].RecipientID)
}

func TestProcess_MalformedRecipientBestEffort(t *testing.T) {
	f := newFixture(t)

	ev := domain.MessageEvent{
		MessageID:      "m3",
		ConversationID: "direct_garbled",
		SenderID:       "user_alice",
		Content:        "hi",
		Timestamp:      time.Now().UnixMilli(),
	}
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, handled, "a missing recipient never loses a persisted message")

	_, ok := f.store.saved["m3"]
	assert.True(t, ok)
	require.Len(t, f.store.updates, 1, "still marked delivered")
	assert.Empty(t, f.notifier.published, "no notification without a recipient")
}

func TestProcess_LocalDeliveryFailureKeepsSent(t *testing.T) {
	f := newFixture(t)
	f.deliverErr = errors.New("push gateway down")

	handled, err := f.proc.Process(context.Background(), directEvent())
	require.NoError(t, err, "local delivery failure is absorbed")
	assert.True(t, handled)

	assert.Empty(t, f.store.updates, "message remains SENT")
	assert.Equal(t, domain.StatusSent, f.store.saved["m1"].Status)
	require.Len(t, f.notifier.published, 1, "fan-out still happens")
}

func TestProcess_GroupMemberFetchFailureSkipsNotify(t *testing.T) {
	f := newFixture(t)
	f.store.membersErr = errors.New("membership service unavailable")

	ev := domain.MessageEvent{
		MessageID:      "m4",
		ConversationID: "group_g2",
		SenderID:       "user_y",
		Content:        "hello",
		Timestamp:      time.Now().UnixMilli(),
	}
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err, "member fetch failure never fails the event")
	assert.True(t, handled)
	assert.Empty(t, f.notifier.published)
}

func TestProcess_DedupCheckFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.store.existsErr = errors.New("store unavailable")

	handled, err := f.proc.Process(context.Background(), directEvent())
	require.Error(t, err)
	assert.False(t, handled)
	assert.Empty(t, f.store.saved)
}

func TestProcess_ExplicitRecipientWins(t *testing.T) {
	f := newFixture(t)

	ev := directEvent()
	ev.RecipientID = "user_carol"
	handled, err := f.proc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, handled)

	require.Len(t, f.notifier.published, 1)
	assert.Equal(t, "user_carol", f.notifier.published[0].RecipientID,
		"an explicit recipient id takes precedence over derivation")
}
