package console

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/transfers"
)

type sent struct{ account, conv, body string }

type fakeClient struct {
	accounts  []jami.Account
	convs     []string
	members   []map[string]string
	requests  []map[string]string
	trust     []string
	loadID    uint32
	lookupOK  bool
	sent      []sent
	loaded    []uint32
	accepted  []string
	declined  []string
	trusted   []string
	lookedUp  []string
	selectHit int
}

func (f *fakeClient) Accounts(context.Context) []jami.Account { return f.accounts }

func (f *fakeClient) SelectAccount(context.Context, bool) jami.Account {
	f.selectHit++
	if len(f.accounts) == 0 {
		return jami.Account{}
	}
	return f.accounts[0]
}

func (f *fakeClient) Conversations(context.Context, string) []string { return f.convs }

func (f *fakeClient) LoadConversation(_ context.Context, _, _, _ string, size uint32) uint32 {
	f.loaded = append(f.loaded, size)
	return f.loadID
}

func (f *fakeClient) SendMessage(_ context.Context, account, conv, body, _ string) uint64 {
	f.sent = append(f.sent, sent{account, conv, body})
	return 1
}

func (f *fakeClient) ConversationMembers(context.Context, string, string) []map[string]string {
	return f.members
}

func (f *fakeClient) ConversationRequests(context.Context, string) []map[string]string {
	return f.requests
}

func (f *fakeClient) AcceptConversationRequest(_ context.Context, _, conv string) {
	f.accepted = append(f.accepted, conv)
}

func (f *fakeClient) DeclineConversationRequest(_ context.Context, _, conv string) {
	f.declined = append(f.declined, conv)
}

func (f *fakeClient) TrustRequests(context.Context, string) []string { return f.trust }

func (f *fakeClient) AcceptTrustRequest(_ context.Context, _, from string) bool {
	for _, t := range f.trust {
		if t == from {
			f.trusted = append(f.trusted, from)
			return true
		}
	}
	return false
}

func (f *fakeClient) LookupName(_ context.Context, _, _, name string) bool {
	f.lookedUp = append(f.lookedUp, name)
	return f.lookupOK
}

type fakeTransfers struct {
	records   []transfers.Record
	cancelled []uint64
}

func (f *fakeTransfers) List() []transfers.Record { return f.records }

func (f *fakeTransfers) Accept(_ context.Context, tid uint64) (string, error) {
	for _, r := range f.records {
		if r.ID == tid {
			return "/dl/" + r.Info.DisplayName, nil
		}
	}
	return "", transfers.ErrUnknownTransfer
}

func (f *fakeTransfers) Cancel(_ context.Context, tid uint64) error {
	f.cancelled = append(f.cancelled, tid)
	return nil
}

var alice = jami.Account{ID: "a1", Alias: "alice", Enabled: true}

func newTestSession(t *testing.T) (*Session, *fakeClient, *fakeTransfers) {
	t.Helper()
	c := &fakeClient{
		accounts: []jami.Account{alice, {ID: "b2", Alias: "bob"}},
		convs:    []string{"c0ffee11", "c0ffee22", "deadbeef"},
		loadID:   7,
		lookupOK: true,
	}
	tr := &fakeTransfers{}
	return NewSession(c, tr, ""), c, tr
}

func run(t *testing.T, s *Session, line string) []string {
	t.Helper()
	out, err := s.Execute(context.Background(), line)
	require.NoError(t, err, line)
	return out
}

// ///////////////////////////////////////////////
// Dispatch
// ///////////////////////////////////////////////

func TestExecuteDispatch(t *testing.T) {
	s, _, _ := newTestSession(t)

	out, err := s.Execute(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Empty(t, out)

	_, err = s.Execute(context.Background(), "/nope")
	assert.ErrorContains(t, err, "unknown command /nope")

	_, err = s.Execute(context.Background(), "/quit")
	assert.ErrorIs(t, err, ErrQuit)

	help := run(t, s, "/help")
	assert.Len(t, help, len(commands))
	assert.Contains(t, help[0], "/accept <conv>")
}

func TestAccountSelection(t *testing.T) {
	s, c, _ := newTestSession(t)

	out := run(t, s, "/accounts")
	assert.Equal(t, []string{"  a1  alice  enabled", "  b2  bob  disabled"}, out)

	run(t, s, "/use bob")
	assert.Equal(t, "b2", s.Account().ID)
	assert.Equal(t, "* b2  bob  disabled", run(t, s, "/accounts")[1])

	_, err := s.Execute(context.Background(), "/use carol")
	assert.Error(t, err)
	_, err = s.Execute(context.Background(), "/use")
	assert.ErrorContains(t, err, "usage: /use <id>")
	assert.Zero(t, c.selectHit)
}

func TestDefaultAccountIsSelectedLazily(t *testing.T) {
	s, c, _ := newTestSession(t)
	run(t, s, "/convs")
	assert.Equal(t, 1, c.selectHit)
	assert.Equal(t, "a1", s.Account().ID)

	empty := NewSession(&fakeClient{}, &fakeTransfers{}, "")
	_, err := empty.Execute(context.Background(), "/convs")
	assert.ErrorContains(t, err, "no account")
}

// ///////////////////////////////////////////////
// Conversations
// ///////////////////////////////////////////////

func TestOpenByPrefix(t *testing.T) {
	s, _, _ := newTestSession(t)

	_, err := s.Execute(context.Background(), "/open c0ffee")
	assert.ErrorContains(t, err, "matches 2 conversations")

	_, err = s.Execute(context.Background(), "/open feed")
	assert.ErrorContains(t, err, "no conversation")

	run(t, s, "/open dead")
	assert.Equal(t, "deadbeef", s.Conversation())
	assert.Equal(t, "alice/deadbeef> ", s.Prompt())
}

func TestSendAndLoad(t *testing.T) {
	s, c, _ := newTestSession(t)

	_, err := s.Execute(context.Background(), "hello")
	assert.ErrorContains(t, err, "no open conversation")

	run(t, s, "/open dead")
	run(t, s, "hello   world")
	run(t, s, "/send  spaced   text ")
	assert.Equal(t, []sent{
		{"a1", "deadbeef", "hello   world"},
		{"a1", "deadbeef", "spaced   text"},
	}, c.sent)

	run(t, s, "/load")
	run(t, s, "/load 5")
	assert.Equal(t, []uint32{defaultLoad, 5}, c.loaded)

	_, err = s.Execute(context.Background(), "/load zero")
	assert.Error(t, err)

	c.loadID = 0
	_, err = s.Execute(context.Background(), "/load")
	assert.ErrorContains(t, err, "load request failed")
}

func TestMembersAndRequests(t *testing.T) {
	s, c, _ := newTestSession(t)
	c.members = []map[string]string{{"uri": "zed", "role": "member"}, {"uri": "amy", "role": "admin"}}
	c.requests = []map[string]string{{"id": "r1", "from": "bob"}}

	run(t, s, "/open dead")
	assert.Equal(t, []string{"amy  admin", "zed  member"}, run(t, s, "/members"))
	assert.Equal(t, []string{"r1  from bob"}, run(t, s, "/requests"))

	run(t, s, "/accept r1")
	run(t, s, "/decline r2")
	assert.Equal(t, []string{"r1"}, c.accepted)
	assert.Equal(t, []string{"r2"}, c.declined)
}

// ///////////////////////////////////////////////
// Contacts and Names
// ///////////////////////////////////////////////

func TestTrust(t *testing.T) {
	s, c, _ := newTestSession(t)
	assert.Equal(t, []string{"no contact requests"}, run(t, s, "/trust"))

	c.trust = []string{"carol"}
	assert.Equal(t, []string{"carol"}, run(t, s, "/trust"))
	run(t, s, "/trust carol")
	assert.Equal(t, []string{"carol"}, c.trusted)

	_, err := s.Execute(context.Background(), "/trust dave")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	s, c, _ := newTestSession(t)
	assert.Empty(t, run(t, s, "/lookup bob"))
	assert.Equal(t, []string{"bob"}, c.lookedUp)

	c.lookupOK = false
	_, err := s.Execute(context.Background(), "/lookup bob")
	assert.Error(t, err)
}

// ///////////////////////////////////////////////
// Transfers
// ///////////////////////////////////////////////

func TestTransferCommands(t *testing.T) {
	s, _, tr := newTestSession(t)
	assert.Equal(t, []string{"no transfers"}, run(t, s, "/transfers"))

	tr.records = []transfers.Record{{
		ID:   4,
		Code: jami.TransferOngoing,
		Info: jami.TransferInfo{DisplayName: "cat.png", TotalSize: 200, BytesProgress: 50},
	}}
	assert.Equal(t, []string{"4  ongoing  cat.png  25%"}, run(t, s, "/transfers"))
	assert.Equal(t, []string{"downloading to /dl/cat.png"}, run(t, s, "/get 4"))

	_, err := s.Execute(context.Background(), "/get 5")
	assert.ErrorIs(t, err, transfers.ErrUnknownTransfer)
	_, err = s.Execute(context.Background(), "/get x")
	assert.ErrorContains(t, err, "usage: /get <tid>")

	run(t, s, "/cancel 4")
	assert.Equal(t, []uint64{4}, tr.cancelled)
}

// ///////////////////////////////////////////////
// Log
// ///////////////////////////////////////////////

func TestLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jamibus.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o600))

	s := NewSession(&fakeClient{}, &fakeTransfers{}, path)
	assert.Equal(t, []string{"two", "three"}, run(t, s, "/log 2"))

	_, err := s.Execute(context.Background(), "/log -1")
	assert.Error(t, err)

	noLog := NewSession(&fakeClient{}, &fakeTransfers{}, "")
	_, err = noLog.Execute(context.Background(), "/log")
	assert.True(t, err != nil && !errors.Is(err, ErrQuit))
}
