package console

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	runewidth "github.com/mattn/go-runewidth"
	"tools.zach/dev/jamibus/internal/jami"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

var (
	ColorGreen  = lipgloss.Color("#22c55e")
	ColorRed    = lipgloss.Color("#ef4444")
	ColorYellow = lipgloss.Color("#eab308")
	ColorBlue   = lipgloss.Color("#3b82f6")
	ColorDim    = lipgloss.Color("#6b7280")
	ColorAccent = lipgloss.Color("#8b5cf6")

	StyleMessage = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue)
	StyleNotice  = lipgloss.NewStyle().Foreground(ColorAccent)
	StyleGood    = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleWarn    = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleError   = lipgloss.NewStyle().Foreground(ColorRed)
	StyleDim     = lipgloss.NewStyle().Foreground(ColorDim)
)

// Render formats ev as one styled line no wider than width columns. Events
// with nothing to show, such as [jami.Resize], render as "".
func Render(ev jami.Event, width int) string {
	label, style, text := describe(ev)
	if label == "" && text == "" {
		return ""
	}
	return Line(style, label, text, width)
}

// Line styles label, then appends text truncated so the whole line fits in
// width columns.
func Line(style lipgloss.Style, label, text string, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	text = strings.Join(strings.Fields(text), " ")
	if label == "" {
		return runewidth.Truncate(text, width, "…")
	}
	room := width - runewidth.StringWidth(label) - 1
	if room <= 0 {
		return style.Render(runewidth.Truncate(label, width, "…"))
	}
	return style.Render(label) + " " + runewidth.Truncate(text, room, "…")
}

// describe splits an event into a label, the label's style and the body text.
func describe(ev jami.Event) (string, lipgloss.Style, string) {
	switch e := ev.(type) {
	case jami.Message:
		author := e.Payload["author"]
		if author == "" {
			author = "?"
		}
		return fmt.Sprintf("[%s] %s:", short(e.ConversationID), short(author)), StyleMessage, messageText(e.Payload)
	case jami.ConversationLoaded:
		return fmt.Sprintf("[%s]", short(e.ConversationID)), StyleDim,
			fmt.Sprintf("loaded %d messages (request %d)", len(e.Messages), e.RequestID)
	case jami.ConversationReady:
		return "conversation", StyleGood, short(e.ConversationID) + " ready"
	case jami.ConversationRemoved:
		return "conversation", StyleWarn, short(e.ConversationID) + " removed"
	case jami.ConversationRequest:
		return "invite", StyleNotice, fmt.Sprintf("conversation %s; /accept %s or /decline %s",
			short(e.ConversationID), e.ConversationID, e.ConversationID)
	case jami.IncomingTrustRequest:
		return "contact", StyleNotice, fmt.Sprintf("trust request from %s; /trust %s", short(e.From), e.From)
	case jami.RegistrationStateChanged:
		style := StyleDim
		switch e.State {
		case "REGISTERED":
			style = StyleGood
		case "ERROR_GENERIC", "ERROR_AUTH", "ERROR_NETWORK", "ERROR_HOST", "ERROR_SERVICE_UNAVAILABLE":
			style = StyleError
		}
		return "account", style, short(e.AccountID) + " " + strings.ToLower(e.State)
	case jami.RegisteredNameFound:
		if e.Code() != jami.NameLookupSuccess {
			return "lookup", StyleWarn, fmt.Sprintf("%s%s: %s", e.Name, e.Address, e.Code())
		}
		return "lookup", StyleGood, fmt.Sprintf("%s is %s", e.Name, e.Address)
	case jami.ProfileReceived:
		return "profile", StyleDim, fmt.Sprintf("from %s at %s", short(e.From), e.Path)
	case jami.AccountsChanged:
		return "accounts", StyleDim, "changed"
	case jami.DataTransferEvent:
		code := e.EventCode()
		style := StyleDim
		switch {
		case code == jami.TransferFinished:
			style = StyleGood
		case code == jami.TransferWaitHostAcceptance:
			style = StyleNotice
		case code.Terminal():
			style = StyleError
		}
		return "transfer", style, fmt.Sprintf("%d %s", e.ID, code)
	case jami.Input:
		return "", StyleDim, fmt.Sprint(e.Value)
	}
	return "", StyleDim, ""
}

// messageText picks the printable part of a message payload.
func messageText(p map[string]string) string {
	switch p["type"] {
	case "", "text/plain":
		return p["body"]
	case "application/data-transfer+json":
		return "sent a file: " + p["displayName"]
	case "member":
		return p["action"] + " " + short(p["uri"])
	default:
		return "(" + p["type"] + ")"
	}
}

// short abbreviates 40-character hashes to their first 8 characters.
func short(id string) string {
	if jami.IsHash(id) {
		return id[:8]
	}
	return id
}
