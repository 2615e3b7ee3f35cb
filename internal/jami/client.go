package jami

import (
	"context"
	"log/slog"
	"time"

	"tools.zach/dev/jamibus/internal/bus"
)

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client calls the daemon's configuration manager methods. Every method is
// a single call; failures are logged at debug level and reported as the
// method's documented default, never as an error.
type Client struct {
	// conn performs the calls.
	conn    bus.Caller
	log     *slog.Logger
	metrics MetricsRecorder
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClientMetrics sets the metrics recorder.
func WithClientMetrics(m MetricsRecorder) ClientOption {
	return func(c *Client) { c.metrics = recorderOrNop(m) }
}

// NewClient returns a Client calling through conn.
func NewClient(conn bus.Caller, opts ...ClientOption) *Client {
	c := &Client{conn: conn, log: slog.Default(), metrics: nopMetrics{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one method call and reports whether it succeeded.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, bool) {
	start := time.Now()
	body, err := c.conn.Call(ctx, Interface, method, args...)
	if err != nil {
		c.metrics.RecordCall(method, "error", time.Since(start))
		c.log.Debug("daemon call failed", "method", method, "error", err)
		return nil, false
	}
	c.metrics.RecordCall(method, "ok", time.Since(start))
	return body, true
}

// callReply performs one method call and returns reply field i as T.
func callReply[T any](ctx context.Context, c *Client, i int, method string, args ...any) (T, bool) {
	var zero T
	body, ok := c.call(ctx, method, args...)
	if !ok {
		return zero, false
	}
	if i >= len(body) {
		c.log.Debug("short daemon reply", "method", method, "fields", len(body))
		return zero, false
	}
	v, ok := body[i].(T)
	if !ok {
		c.log.Debug("unexpected daemon reply", "method", method, "want", typeName(zero), "got", typeName(body[i]))
		return zero, false
	}
	return v, true
}

// ///////////////////////////////////////////////
// Accounts
// ///////////////////////////////////////////////

// AddAccount creates an account and returns its id, or "" on failure. info
// is an alias, an archive path or a device PIN depending on t.
func (c *Client) AddAccount(ctx context.Context, info, password string, t ImportType) string {
	id, _ := callReply[string](ctx, c, 0, "addAccount", accountCreationDetails(info, password, t))
	return id
}

// Accounts returns every account with its details.
func (c *Client) Accounts(ctx context.Context) []Account {
	ids, _ := callReply[[]string](ctx, c, 0, "getAccountList")
	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, c.Account(ctx, id))
	}
	return accounts
}

// Account returns the account with id, or the zero Account on failure.
func (c *Client) Account(ctx context.Context, id string) Account {
	details, ok := callReply[map[string]string](ctx, c, 0, "getAccountDetails", id)
	if !ok {
		return Account{}
	}
	return accountFromDetails(id, details)
}

// SelectAccount returns the first enabled account. When there is none and
// createIfMissing is set, a new account is requested from the daemon; the
// zero Account is still returned since the daemon creates it asynchronously
// and announces it with [AccountsChanged].
func (c *Client) SelectAccount(ctx context.Context, createIfMissing bool) Account {
	for _, a := range c.Accounts(ctx) {
		if a.Enabled {
			return a
		}
	}
	if createIfMissing {
		c.AddAccount(ctx, "", "", ImportNone)
	}
	return Account{}
}

// RemoveAccount removes the account with id.
func (c *Client) RemoveAccount(ctx context.Context, id string) {
	c.call(ctx, "removeAccount", id)
}

// AccountDetails returns the raw details of account id, or an empty map.
func (c *Client) AccountDetails(ctx context.Context, id string) map[string]string {
	details, ok := callReply[map[string]string](ctx, c, 0, "getAccountDetails", id)
	if !ok {
		return map[string]string{}
	}
	return details
}

// SetAccountDetails replaces the details of account id.
func (c *Client) SetAccountDetails(ctx context.Context, id string, details map[string]string) {
	c.call(ctx, "setAccountDetails", id, details)
}

// ///////////////////////////////////////////////
// Contacts and Trust Requests
// ///////////////////////////////////////////////

// AddContact adds uri to the contacts of account.
func (c *Client) AddContact(ctx context.Context, account, uri string) {
	c.call(ctx, "addContact", account, uri)
}

// TrustRequests returns the senders of pending trust requests.
func (c *Client) TrustRequests(ctx context.Context, account string) []string {
	reqs, _ := callReply[[]map[string]string](ctx, c, 0, "getTrustRequests", account)
	from := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if f, ok := r["from"]; ok {
			from = append(from, f)
		}
	}
	return from
}

// SendTrustRequest sends a trust request with payload (usually a vCard).
func (c *Client) SendTrustRequest(ctx context.Context, account, to string, payload []byte) {
	if payload == nil {
		payload = []byte{}
	}
	c.call(ctx, "sendTrustRequest", account, to, payload)
}

// AcceptTrustRequest accepts the request from from.
func (c *Client) AcceptTrustRequest(ctx context.Context, account, from string) bool {
	ok, _ := callReply[bool](ctx, c, 0, "acceptTrustRequest", account, from)
	return ok
}

// DiscardTrustRequest discards the request from from.
func (c *Client) DiscardTrustRequest(ctx context.Context, account, from string) bool {
	ok, _ := callReply[bool](ctx, c, 0, "discardTrustRequest", account, from)
	return ok
}

// ///////////////////////////////////////////////
// Conversations
// ///////////////////////////////////////////////

// ConversationMembers returns one detail map per member.
func (c *Client) ConversationMembers(ctx context.Context, account, conv string) []map[string]string {
	members, ok := callReply[[]map[string]string](ctx, c, 0, "getConversationMembers", account, conv)
	if !ok {
		return []map[string]string{}
	}
	return members
}

// ConversationInfos returns the conversation's metadata.
func (c *Client) ConversationInfos(ctx context.Context, account, conv string) map[string]string {
	infos, ok := callReply[map[string]string](ctx, c, 0, "conversationInfos", account, conv)
	if !ok {
		return map[string]string{}
	}
	return infos
}

// UpdateConversationInfos updates the conversation's metadata.
func (c *Client) UpdateConversationInfos(ctx context.Context, account, conv string, infos map[string]string) {
	c.call(ctx, "updateConversationInfos", account, conv, infos)
}

// StartConversation creates a conversation and returns its id, or "".
func (c *Client) StartConversation(ctx context.Context, account string) string {
	id, _ := callReply[string](ctx, c, 0, "startConversation", account)
	return id
}

// Conversations returns the conversation ids of account.
func (c *Client) Conversations(ctx context.Context, account string) []string {
	ids, ok := callReply[[]string](ctx, c, 0, "getConversations", account)
	if !ok {
		return []string{}
	}
	return ids
}

// ConversationRequests returns pending conversation requests.
func (c *Client) ConversationRequests(ctx context.Context, account string) []map[string]string {
	reqs, ok := callReply[[]map[string]string](ctx, c, 0, "getConversationRequests", account)
	if !ok {
		return []map[string]string{}
	}
	return reqs
}

// DeclineConversationRequest declines the request for conv.
func (c *Client) DeclineConversationRequest(ctx context.Context, account, conv string) {
	c.call(ctx, "declineConversationRequest", account, conv)
}

// AcceptConversationRequest accepts the request for conv.
func (c *Client) AcceptConversationRequest(ctx context.Context, account, conv string) {
	c.call(ctx, "acceptConversationRequest", account, conv)
}

// LoadConversation asks for size messages starting at message id from ("" for
// the latest). The messages arrive as a [ConversationLoaded] event carrying
// the returned request id; 0 means the call failed.
func (c *Client) LoadConversation(ctx context.Context, account, conv, from string, size uint32) uint32 {
	id, _ := callReply[uint32](ctx, c, 0, "loadConversationMessages", account, conv, from, size)
	return id
}

// RemoveConversation removes conv and reports success.
func (c *Client) RemoveConversation(ctx context.Context, account, conv string) bool {
	ok, _ := callReply[bool](ctx, c, 0, "removeConversation", account, conv)
	return ok
}

// AddConversationMember invites uri to conv.
func (c *Client) AddConversationMember(ctx context.Context, account, conv, uri string) {
	c.call(ctx, "addConversationMember", account, conv, uri)
}

// RemoveConversationMember removes uri from conv.
func (c *Client) RemoveConversationMember(ctx context.Context, account, conv, uri string) {
	c.call(ctx, "rmConversationMember", account, conv, uri)
}

// SendMessage posts body to conv, replying to parent if set. It returns the
// daemon's message token, or 0.
func (c *Client) SendMessage(ctx context.Context, account, conv, body, parent string) uint64 {
	token, _ := callReply[uint64](ctx, c, 0, "sendMessage", account, conv, body, parent)
	return token
}

// ///////////////////////////////////////////////
// File Transfers
// ///////////////////////////////////////////////

// SendFile offers the file at path to conv. It returns the transfer id the
// daemon reports, or 0; progress arrives as [DataTransferEvent]s.
func (c *Client) SendFile(ctx context.Context, account, conv, path string) uint64 {
	info := TransferInfo{AccountID: account, ConversationID: conv, Path: path}
	body, ok := c.call(ctx, "sendFile", info, uint64(0))
	if !ok || len(body) == 0 {
		return 0
	}
	id, _ := body[0].(uint64)
	return id
}

// AcceptFileTransfer downloads transfer tid to path. It returns the daemon's
// status code, or 0.
func (c *Client) AcceptFileTransfer(ctx context.Context, account, conv string, tid uint64, path string) uint32 {
	code, _ := callReply[uint32](ctx, c, 0, "acceptFileTransfer", account, conv, tid, path, int64(0))
	return code
}

// CancelDataTransfer cancels transfer tid. It returns the daemon's status
// code, or 0.
func (c *Client) CancelDataTransfer(ctx context.Context, account, conv string, tid uint64) uint32 {
	code, _ := callReply[uint32](ctx, c, 0, "cancelDataTransfer", account, conv, tid)
	return code
}

// DataTransferInfo fetches the state of transfer tid. ok is false when the
// call failed or the reply did not match the record layout.
func (c *Client) DataTransferInfo(ctx context.Context, account, conv string, tid uint64) (info TransferInfo, ok bool) {
	tuple, ok := callReply[[]any](ctx, c, 1, "dataTransferInfo", account, conv, tid, TransferInfo{})
	if !ok {
		return TransferInfo{}, false
	}
	info, err := TransferInfoFromTuple(tuple)
	if err != nil {
		c.log.Debug("unexpected daemon reply", "method", "dataTransferInfo", "error", err)
		return TransferInfo{}, false
	}
	return info, true
}

// ///////////////////////////////////////////////
// Name Service
// ///////////////////////////////////////////////

// LookupName resolves name on nameService ("" for the account's default).
// The answer arrives as a [RegisteredNameFound] event; the result reports
// whether the lookup was started.
func (c *Client) LookupName(ctx context.Context, account, nameService, name string) bool {
	ok, _ := callReply[bool](ctx, c, 0, "lookupName", account, nameService, name)
	return ok
}

// LookupAddress resolves address to a registered name, like LookupName.
func (c *Client) LookupAddress(ctx context.Context, account, nameService, address string) bool {
	ok, _ := callReply[bool](ctx, c, 0, "lookupAddress", account, nameService, address)
	return ok
}
