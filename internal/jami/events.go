package jami

// ///////////////////////////////////////////////
// Event Union
// ///////////////////////////////////////////////

// Event is one item of the typed event stream. The set of implementations is
// closed: every daemon signal maps to exactly one of the types below, plus
// [Input] and [Resize] which are injected locally.
type Event interface {
	isEvent()
}

// Input carries a value injected by the application, such as a console line.
type Input struct {
	Value any
}

// Message is a conversation message (messageReceived).
type Message struct {
	AccountID      string
	ConversationID string
	Payload        map[string]string
}

// ConversationReady reports a conversation that finished cloning or was
// created locally (conversationReady).
type ConversationReady struct {
	AccountID      string
	ConversationID string
}

// ConversationRemoved reports a conversation removed from the account
// (conversationRemoved).
type ConversationRemoved struct {
	AccountID      string
	ConversationID string
}

// ConversationRequest reports an incoming conversation invitation
// (conversationRequestReceived).
type ConversationRequest struct {
	AccountID      string
	ConversationID string
}

// RegistrationStateChanged reports a new account registration state such as
// REGISTERED or TRYING (registrationStateChanged).
type RegistrationStateChanged struct {
	AccountID string
	State     string
}

// ProfileReceived reports a vCard stored at Path for peer From
// (profileReceived).
type ProfileReceived struct {
	AccountID string
	From      string
	Path      string
}

// RegisteredNameFound answers a LookupName or LookupAddress call
// (registeredNameFound). Status holds the daemon's signed code widened
// with sign extension; use Code to recover it.
type RegisteredNameFound struct {
	AccountID string
	Status    uint64
	Address   string
	Name      string
}

// Code returns the lookup status as sent by the daemon.
func (e RegisteredNameFound) Code() NameLookupStatus {
	return NameLookupStatus(int32(e.Status))
}

// AccountsChanged reports that the account list changed (accountsChanged).
type AccountsChanged struct{}

// ConversationLoaded answers a LoadConversation call (conversationLoaded).
// Messages are ordered as the daemon sent them.
type ConversationLoaded struct {
	RequestID      uint32
	AccountID      string
	ConversationID string
	Messages       []map[string]string
}

// DataTransferEvent reports a file transfer status change
// (dataTransferEvent).
type DataTransferEvent struct {
	AccountID      string
	ConversationID string
	ID             uint64
	Code           int32
}

// EventCode returns Code as a [TransferEventCode].
func (e DataTransferEvent) EventCode() TransferEventCode {
	return TransferEventCode(e.Code)
}

// IncomingTrustRequest reports a contact request (incomingTrustRequest).
// ReceivedAt is a Unix timestamp in seconds.
type IncomingTrustRequest struct {
	AccountID  string
	From       string
	Payload    []byte
	ReceivedAt uint64
}

// Resize reports that the hosting terminal changed size.
type Resize struct{}

func (Input) isEvent()                    {}
func (Message) isEvent()                  {}
func (ConversationReady) isEvent()        {}
func (ConversationRemoved) isEvent()      {}
func (ConversationRequest) isEvent()      {}
func (RegistrationStateChanged) isEvent() {}
func (ProfileReceived) isEvent()          {}
func (RegisteredNameFound) isEvent()      {}
func (AccountsChanged) isEvent()          {}
func (ConversationLoaded) isEvent()       {}
func (DataTransferEvent) isEvent()        {}
func (IncomingTrustRequest) isEvent()     {}
func (Resize) isEvent()                   {}

// ///////////////////////////////////////////////
// Status Codes
// ///////////////////////////////////////////////

// NameLookupStatus is the status of a name service lookup.
type NameLookupStatus int32

const (
	NameLookupSuccess  NameLookupStatus = 0
	NameLookupInvalid  NameLookupStatus = 1
	NameLookupNotFound NameLookupStatus = 2
	NameLookupError    NameLookupStatus = 3
)

func (s NameLookupStatus) String() string {
	switch s {
	case NameLookupSuccess:
		return "success"
	case NameLookupInvalid:
		return "invalid"
	case NameLookupNotFound:
		return "not_found"
	case NameLookupError:
		return "error"
	default:
		return "unknown"
	}
}

// TransferEventCode is the daemon's data transfer event code.
type TransferEventCode int32

const (
	TransferInvalid            TransferEventCode = 0
	TransferCreated            TransferEventCode = 1
	TransferUnsupported        TransferEventCode = 2
	TransferWaitPeerAcceptance TransferEventCode = 3
	TransferWaitHostAcceptance TransferEventCode = 4
	TransferOngoing            TransferEventCode = 5
	TransferFinished           TransferEventCode = 6
	TransferClosedByHost       TransferEventCode = 7
	TransferClosedByPeer       TransferEventCode = 8
	TransferInvalidPathname    TransferEventCode = 9
	TransferUnjoinablePeer     TransferEventCode = 10
	TransferTimeoutExpired     TransferEventCode = 11
)

var transferEventNames = [...]string{
	"invalid",
	"created",
	"unsupported",
	"wait_peer_acceptance",
	"wait_host_acceptance",
	"ongoing",
	"finished",
	"closed_by_host",
	"closed_by_peer",
	"invalid_pathname",
	"unjoinable_peer",
	"timeout_expired",
}

func (c TransferEventCode) String() string {
	if c < 0 || int(c) >= len(transferEventNames) {
		return "unknown"
	}
	return transferEventNames[c]
}

// Terminal reports whether no further events follow for the transfer.
func (c TransferEventCode) Terminal() bool {
	switch c {
	case TransferFinished, TransferClosedByHost, TransferClosedByPeer,
		TransferInvalidPathname, TransferUnjoinablePeer, TransferTimeoutExpired,
		TransferUnsupported:
		return true
	}
	return false
}
