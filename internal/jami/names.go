// Package jami bridges the Jami daemon's configuration manager to Go.
//
// A [Listener] subscribes to every daemon signal over a shared [bus.Conn],
// decodes each positional payload into a typed [Event] and forwards it
// through an [EventChannel] to a single consumer until its [StopFlag] is
// set. A [Client] wraps the daemon's one-shot methods; each returns a
// default value when the call fails.
package jami

// Interface is the D-Bus interface of the daemon's configuration manager.
const Interface = "cx.ring.Ring.ConfigurationManager"

// Daemon signal members.
const (
	SignalAccountsChanged             = "accountsChanged"
	SignalMessageReceived             = "messageReceived"
	SignalRegistrationStateChanged    = "registrationStateChanged"
	SignalConversationReady           = "conversationReady"
	SignalConversationRemoved         = "conversationRemoved"
	SignalConversationRequestReceived = "conversationRequestReceived"
	SignalRegisteredNameFound         = "registeredNameFound"
	SignalProfileReceived             = "profileReceived"
	SignalIncomingTrustRequest        = "incomingTrustRequest"
	SignalConversationLoaded          = "conversationLoaded"
	SignalDataTransferEvent           = "dataTransferEvent"
)

// sourceInput is the lane name for locally injected events.
const sourceInput = "input"
