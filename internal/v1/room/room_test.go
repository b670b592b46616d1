package room

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/types"
)

// fakeClient records every event sent to it.
type fakeClient struct {
	mu       sync.Mutex
	userID   types.UserID
	nickname string
	roomCode types.RoomCode
	events   []fakeEvent
}

type fakeEvent struct {
	Event   string
	Payload any
}

func newFakeClient(userID, nickname string) *fakeClient {
	return &fakeClient{userID: types.UserID(userID), nickname: nickname}
}

func (f *fakeClient) GetUserID() types.UserID       { return f.userID }
func (f *fakeClient) GetSessionID() types.SessionID { return types.SessionID("sess-" + f.userID) }

func (f *fakeClient) GetNickname() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nickname
}

func (f *fakeClient) SetNickname(n string) {
	f.mu.Lock()
	f.nickname = n
	f.mu.Unlock()
}

func (f *fakeClient) GetRoomCode() types.RoomCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomCode
}

func (f *fakeClient) SetRoomCode(code types.RoomCode) {
	f.mu.Lock()
	f.roomCode = code
	f.mu.Unlock()
}

func (f *fakeClient) Send(event string, payload any) {
	f.mu.Lock()
	f.events = append(f.events, fakeEvent{Event: event, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeClient) Disconnect() {}

func (f *fakeClient) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.Event
	}
	return names
}

func (f *fakeClient) received(event string) bool {
	for _, name := range f.eventNames() {
		if name == event {
			return true
		}
	}
	return false
}

func newTestManager() *Manager {
	return NewManager((*cache.Service)(nil))
}

func createTestRoom(t *testing.T, m *Manager, host *fakeClient, params CreateParams) *Room {
	t.Helper()
	r, _, err := m.Create(context.Background(), host, params)
	require.NoError(t, err)
	return r
}

func TestCreateAssignsCodeAndHost(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")

	r, snapshot, err := m.Create(context.Background(), host, CreateParams{Name: "My Room", IsPublic: true})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), string(r.Code()))
	assert.True(t, r.IsHost(host.userID))
	assert.EqualValues(t, "u-host", snapshot.CreatorUserID)
	require.Len(t, snapshot.Players, 1)
	assert.Equal(t, r.Code(), host.GetRoomCode())
	assert.Equal(t, types.KnownGameTypes, snapshot.GamePool)
}

func TestCreateDefaults(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")

	_, snapshot, err := m.Create(context.Background(), host, CreateParams{})
	require.NoError(t, err)
	assert.Equal(t, "Host's room", snapshot.Name)
	assert.Equal(t, DefaultMaxPlayers, snapshot.MaxPlayers)
	assert.False(t, snapshot.IsPublic)
}

func TestJoinBroadcastsToMembers(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	joiner := newFakeClient("u-2", "Bob")
	_, snapshot, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)

	assert.Len(t, snapshot.Players, 2)
	assert.Equal(t, r.Code(), joiner.GetRoomCode())
	assert.True(t, host.received(types.EventPlayerJoined))
	assert.True(t, host.received(types.EventNewMessage)) // system join message
}

func TestJoinIsIdempotent(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)

	_, snapshot, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)
	assert.Len(t, snapshot.Players, 2, "re-join must not duplicate membership")
}

func TestJoinUnknownCode(t *testing.T) {
	m := newTestManager()
	joiner := newFakeClient("u-2", "Bob")

	_, _, err := m.Join(context.Background(), joiner, "ZZZZZZ", "")
	assert.Equal(t, types.ErrNotFound, err)
}

func TestJoinWrongPassword(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{Password: "secret"})

	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "wrong")
	assert.Equal(t, types.ErrBadPassword, err)

	_, _, err = m.Join(context.Background(), joiner, r.Code(), "secret")
	assert.NoError(t, err)
}

func TestJoinFullRoom(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{MaxPlayers: 2})

	_, _, err := m.Join(context.Background(), newFakeClient("u-2", "Bob"), r.Code(), "")
	require.NoError(t, err)

	_, _, err = m.Join(context.Background(), newFakeClient("u-3", "Carol"), r.Code(), "")
	assert.Equal(t, types.ErrFull, err)
}

func TestNormalizeCode(t *testing.T) {
	assert.EqualValues(t, "ABC123", NormalizeCode("  abc123 "))
}

func TestLeaveRemovesMembershipAndConfession(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)
	require.NoError(t, r.SubmitConfession(context.Background(), joiner.userID, "I never learned to whistle"))

	require.NoError(t, m.Leave(context.Background(), joiner, r.Code()))

	assert.False(t, r.HasPlayer(joiner.userID))
	assert.Empty(t, joiner.GetRoomCode())
	assert.Empty(t, r.ReadyPlayers(), "unrevealed confession leaves with its owner")
	assert.True(t, host.received(types.EventPlayerLeft))
}

func TestKick(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	target := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), target, r.Code(), "")
	require.NoError(t, err)

	// only the host may kick
	err = r.Kick(context.Background(), target.userID, host.userID)
	assert.Equal(t, types.ErrNotHost, err)

	require.NoError(t, r.Kick(context.Background(), host.userID, target.userID))
	assert.True(t, target.received(types.EventKicked))
	assert.True(t, host.received(types.EventPlayerKicked))
	assert.False(t, r.HasPlayer(target.userID))
}

func TestKickUnknownTarget(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	err := r.Kick(context.Background(), host.userID, "u-nobody")
	assert.Equal(t, types.ErrNotFound, err)
}

func TestHostIsNotTransferred(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)
	require.NoError(t, m.Leave(context.Background(), host, r.Code()))

	// the departed creator still holds the host slot
	assert.False(t, r.IsHost(joiner.userID))
	assert.True(t, r.IsHost(host.userID))
}

func TestUpdateGamePool(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	err := r.UpdateGamePool(context.Background(), "u-not-host", []types.GameType{types.GameTypeRPS})
	assert.Equal(t, types.ErrNotHost, err)

	require.NoError(t, r.UpdateGamePool(context.Background(), host.userID,
		[]types.GameType{types.GameTypeRPS, "bogus-game", types.GameTypeRPS}))
	assert.Equal(t, []types.GameType{types.GameTypeRPS}, r.GamePool(), "unknown and duplicate types are dropped")

	// filtering down to nothing restores the default pool
	require.NoError(t, r.UpdateGamePool(context.Background(), host.userID, []types.GameType{"bogus"}))
	assert.Equal(t, types.KnownGameTypes, r.GamePool())
}

func TestUpdateSettings(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{MaxPlayers: 10})

	for i := 0; i < 4; i++ {
		_, _, err := m.Join(context.Background(), newFakeClient(fmt.Sprintf("u-%d", i), "P"), r.Code(), "")
		require.NoError(t, err)
	}

	name := "Renamed"
	shrink := 2
	require.NoError(t, r.UpdateSettings(context.Background(), host.userID, SettingsUpdate{
		Name:       &name,
		MaxPlayers: &shrink,
	}))
	snap := r.Snapshot()
	assert.Equal(t, "Renamed", snap.Name)
	assert.Equal(t, 10, snap.MaxPlayers, "capacity never shrinks below member count")

	grow := 15
	require.NoError(t, r.UpdateSettings(context.Background(), host.userID, SettingsUpdate{MaxPlayers: &grow}))
	assert.Equal(t, 15, r.Snapshot().MaxPlayers)
}

func TestDisconnectReconnectKeepsMembership(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	joiner := newFakeClient("u-2", "Bob")
	_, _, err := m.Join(context.Background(), joiner, r.Code(), "")
	require.NoError(t, err)

	r.MarkDisconnected(context.Background(), joiner.userID)
	assert.True(t, r.HasPlayer(joiner.userID), "membership survives the drop")
	assert.True(t, host.received(types.EventPlayerDisconnected))

	rejoined := newFakeClient("u-2", "Bob")
	require.NoError(t, r.MarkReconnected(context.Background(), rejoined))
	assert.Equal(t, r.Code(), rejoined.GetRoomCode())
	assert.True(t, host.received(types.EventPlayerReconnected))
}

func TestCleanupGracePeriod(t *testing.T) {
	m := newTestManager()
	m.grace = 20 * time.Millisecond

	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})
	code := r.Code()

	require.NoError(t, m.Leave(context.Background(), host, code))

	require.Eventually(t, func() bool {
		return m.Get(code) == nil
	}, time.Second, 5*time.Millisecond, "empty room should deactivate after the grace period")
}

func TestCleanupCancelledByRejoin(t *testing.T) {
	m := newTestManager()
	m.grace = 50 * time.Millisecond

	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})
	code := r.Code()

	require.NoError(t, m.Leave(context.Background(), host, code))

	_, _, err := m.Join(context.Background(), newFakeClient("u-2", "Bob"), code, "")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.NotNil(t, m.Get(code), "rejoin within grace must cancel cleanup")
}

func TestPublicRooms(t *testing.T) {
	m := newTestManager()
	createTestRoom(t, m, newFakeClient("u-1", "A"), CreateParams{IsPublic: true})
	createTestRoom(t, m, newFakeClient("u-2", "B"), CreateParams{IsPublic: false})

	rooms := m.PublicRooms()
	require.Len(t, rooms, 1)
	assert.True(t, rooms[0].IsPublic)
}

func TestFindByUser(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	assert.Equal(t, r, m.FindByUser(host.userID))
	assert.Nil(t, m.FindByUser("u-nobody"))
}

func TestCurrentGameLifecycle(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})

	r.SetCurrentGame(context.Background(), "game-1", []types.UserID{host.userID})
	assert.EqualValues(t, "game-1", r.CurrentGameID())
	assert.True(t, r.Snapshot().Players[0].IsPlaying)

	r.ClearCurrentGame(context.Background(), "game-1")
	assert.Empty(t, r.CurrentGameID())
	assert.False(t, r.Snapshot().Players[0].IsPlaying)
}

func TestSnapshotHidesConfessionText(t *testing.T) {
	m := newTestManager()
	host := newFakeClient("u-host", "Host")
	r := createTestRoom(t, m, host, CreateParams{})
	require.NoError(t, r.SubmitConfession(context.Background(), host.userID, "I cried at a cereal commercial"))

	snap := r.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.True(t, snap.Players[0].HasConfession)
	// the snapshot type has no text field at all; nothing more to assert here
}
