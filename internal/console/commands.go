package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/logger"
	"tools.zach/dev/jamibus/internal/transfers"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

// defaultLoad is how many messages /load fetches without an argument.
const defaultLoad = 20

// Client is the part of the daemon facade the console drives. *jami.Client
// satisfies it.
type Client interface {
	Accounts(ctx context.Context) []jami.Account
	SelectAccount(ctx context.Context, createIfMissing bool) jami.Account
	Conversations(ctx context.Context, account string) []string
	LoadConversation(ctx context.Context, account, conv, from string, size uint32) uint32
	SendMessage(ctx context.Context, account, conv, body, parent string) uint64
	ConversationMembers(ctx context.Context, account, conv string) []map[string]string
	ConversationRequests(ctx context.Context, account string) []map[string]string
	AcceptConversationRequest(ctx context.Context, account, conv string)
	DeclineConversationRequest(ctx context.Context, account, conv string)
	TrustRequests(ctx context.Context, account string) []string
	AcceptTrustRequest(ctx context.Context, account, from string) bool
	LookupName(ctx context.Context, account, nameService, name string) bool
}

// Transfers is the part of the transfer tracker the console drives.
// *transfers.Manager satisfies it.
type Transfers interface {
	List() []transfers.Record
	Accept(ctx context.Context, tid uint64) (string, error)
	Cancel(ctx context.Context, tid uint64) error
}

// Session holds the console's selection state and turns command lines into
// facade calls.
type Session struct {
	client    Client
	transfers Transfers
	logPath   string

	account jami.Account
	conv    string
}

// NewSession creates a session. logPath backs /log and may be empty.
func NewSession(c Client, t Transfers, logPath string) *Session {
	return &Session{client: c, transfers: t, logPath: logPath}
}

// Account returns the selected account.
func (s *Session) Account() jami.Account { return s.account }

// Conversation returns the open conversation id.
func (s *Session) Conversation() string { return s.conv }

// Prompt describes the current selection for the readline prompt.
func (s *Session) Prompt() string {
	var b strings.Builder
	if !s.account.IsZero() {
		b.WriteString(s.account.DisplayName())
	}
	if s.conv != "" {
		b.WriteString("/" + short(s.conv))
	}
	b.WriteString("> ")
	return b.String()
}

type command struct {
	usage string
	help  string
	run   func(s *Session, ctx context.Context, args []string) ([]string, error)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"accounts":  {"/accounts", "list accounts", (*Session).cmdAccounts},
		"use":       {"/use <id>", "select an account", (*Session).cmdUse},
		"convs":     {"/convs", "list conversations", (*Session).cmdConvs},
		"open":      {"/open <conv>", "open a conversation", (*Session).cmdOpen},
		"load":      {"/load [n]", "load recent messages", (*Session).cmdLoad},
		"send":      {"/send <text>", "send a message (bare text works too)", (*Session).cmdSend},
		"members":   {"/members", "list members of the open conversation", (*Session).cmdMembers},
		"requests":  {"/requests", "list conversation invitations", (*Session).cmdRequests},
		"accept":    {"/accept <conv>", "accept an invitation", (*Session).cmdAccept},
		"decline":   {"/decline <conv>", "decline an invitation", (*Session).cmdDecline},
		"trust":     {"/trust [uri]", "list or accept contact requests", (*Session).cmdTrust},
		"lookup":    {"/lookup <name>", "resolve a registered name", (*Session).cmdLookup},
		"transfers": {"/transfers", "list file transfers", (*Session).cmdTransfers},
		"get":       {"/get <tid>", "download a file transfer", (*Session).cmdGet},
		"cancel":    {"/cancel <tid>", "cancel a file transfer", (*Session).cmdCancel},
		"log":       {"/log [n]", "show the last log lines", (*Session).cmdLog},
		"help":      {"/help", "show this list", (*Session).cmdHelp},
		"quit":      {"/quit", "stop the daemon", func(*Session, context.Context, []string) ([]string, error) { return nil, ErrQuit }},
	}
}

// Execute runs one console line and returns the lines to print. It returns
// [ErrQuit] for /quit.
func (s *Session) Execute(ctx context.Context, line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.cmdSend(ctx, []string{line})
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	cmd, ok := commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command /%s; try /help", name)
	}
	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		if name == "send" {
			args = []string{rest}
		} else {
			args = strings.Fields(rest)
		}
	}
	return cmd.run(s, ctx, args)
}

func (s *Session) needAccount(ctx context.Context) error {
	if s.account.IsZero() {
		s.account = s.client.SelectAccount(ctx, false)
	}
	if s.account.IsZero() {
		return errors.New("no account; create one with the Jami client first")
	}
	return nil
}

func (s *Session) needConv(ctx context.Context) error {
	if err := s.needAccount(ctx); err != nil {
		return err
	}
	if s.conv == "" {
		return errors.New("no open conversation; use /open <conv>")
	}
	return nil
}

func usage(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}

// ///////////////////////////////////////////////
// Accounts
// ///////////////////////////////////////////////

func (s *Session) cmdAccounts(ctx context.Context, _ []string) ([]string, error) {
	accounts := s.client.Accounts(ctx)
	if len(accounts) == 0 {
		return []string{"no accounts"}, nil
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		mark := " "
		if a.ID == s.account.ID {
			mark = "*"
		}
		state := "enabled"
		if !a.Enabled {
			state = "disabled"
		}
		out = append(out, fmt.Sprintf("%s %s  %s  %s", mark, a.ID, a.DisplayName(), state))
	}
	return out, nil
}

func (s *Session) cmdUse(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("use")
	}
	for _, a := range s.client.Accounts(ctx) {
		if a.ID == args[0] || a.Alias == args[0] || a.RegisteredName == args[0] {
			s.account = a
			s.conv = ""
			return []string{"using " + a.DisplayName()}, nil
		}
	}
	return nil, fmt.Errorf("no account %q", args[0])
}

// ///////////////////////////////////////////////
// Conversations
// ///////////////////////////////////////////////

func (s *Session) cmdConvs(ctx context.Context, _ []string) ([]string, error) {
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	convs := s.client.Conversations(ctx, s.account.ID)
	if len(convs) == 0 {
		return []string{"no conversations"}, nil
	}
	return convs, nil
}

func (s *Session) cmdOpen(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("open")
	}
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	var matches []string
	for _, c := range s.client.Conversations(ctx, s.account.ID) {
		if strings.HasPrefix(c, args[0]) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no conversation %q", args[0])
	case 1:
		s.conv = matches[0]
		return []string{"opened " + s.conv}, nil
	default:
		return nil, fmt.Errorf("%q matches %d conversations", args[0], len(matches))
	}
}

func (s *Session) cmdLoad(ctx context.Context, args []string) ([]string, error) {
	if err := s.needConv(ctx); err != nil {
		return nil, err
	}
	n := uint64(defaultLoad)
	if len(args) > 0 {
		var err error
		if n, err = strconv.ParseUint(args[0], 10, 32); err != nil || n == 0 {
			return nil, usage("load")
		}
	}
	if id := s.client.LoadConversation(ctx, s.account.ID, s.conv, "", uint32(n)); id == 0 {
		return nil, errors.New("load request failed")
	}
	return nil, nil
}

func (s *Session) cmdSend(ctx context.Context, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, usage("send")
	}
	if err := s.needConv(ctx); err != nil {
		return nil, err
	}
	s.client.SendMessage(ctx, s.account.ID, s.conv, args[0], "")
	return nil, nil
}

func (s *Session) cmdMembers(ctx context.Context, _ []string) ([]string, error) {
	if err := s.needConv(ctx); err != nil {
		return nil, err
	}
	members := s.client.ConversationMembers(ctx, s.account.ID, s.conv)
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, fmt.Sprintf("%s  %s", m["uri"], m["role"]))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Session) cmdRequests(ctx context.Context, _ []string) ([]string, error) {
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	reqs := s.client.ConversationRequests(ctx, s.account.ID)
	if len(reqs) == 0 {
		return []string{"no invitations"}, nil
	}
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, fmt.Sprintf("%s  from %s", r["id"], short(r["from"])))
	}
	return out, nil
}

func (s *Session) cmdAccept(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("accept")
	}
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	s.client.AcceptConversationRequest(ctx, s.account.ID, args[0])
	return []string{"accepted " + args[0]}, nil
}

func (s *Session) cmdDecline(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("decline")
	}
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	s.client.DeclineConversationRequest(ctx, s.account.ID, args[0])
	return []string{"declined " + args[0]}, nil
}

// ///////////////////////////////////////////////
// Contacts and Names
// ///////////////////////////////////////////////

func (s *Session) cmdTrust(ctx context.Context, args []string) ([]string, error) {
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		from := s.client.TrustRequests(ctx, s.account.ID)
		if len(from) == 0 {
			return []string{"no contact requests"}, nil
		}
		return from, nil
	}
	if !s.client.AcceptTrustRequest(ctx, s.account.ID, args[0]) {
		return nil, fmt.Errorf("no contact request from %s", args[0])
	}
	return []string{"trusted " + args[0]}, nil
}

func (s *Session) cmdLookup(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("lookup")
	}
	if err := s.needAccount(ctx); err != nil {
		return nil, err
	}
	if !s.client.LookupName(ctx, s.account.ID, "", args[0]) {
		return nil, errors.New("lookup request failed")
	}
	return nil, nil
}

// ///////////////////////////////////////////////
// Transfers
// ///////////////////////////////////////////////

func (s *Session) cmdTransfers(context.Context, []string) ([]string, error) {
	recs := s.transfers.List()
	if len(recs) == 0 {
		return []string{"no transfers"}, nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		line := fmt.Sprintf("%d  %s  %s  %d%%", r.ID, r.Code, r.Info.DisplayName, int(r.Info.Progress()*100))
		if r.Destination != "" {
			line += "  -> " + r.Destination
		}
		out = append(out, line)
	}
	return out, nil
}

func parseTID(name string, args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, usage(name)
	}
	tid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, usage(name)
	}
	return tid, nil
}

func (s *Session) cmdGet(ctx context.Context, args []string) ([]string, error) {
	tid, err := parseTID("get", args)
	if err != nil {
		return nil, err
	}
	dest, err := s.transfers.Accept(ctx, tid)
	if err != nil {
		return nil, err
	}
	return []string{"downloading to " + dest}, nil
}

func (s *Session) cmdCancel(ctx context.Context, args []string) ([]string, error) {
	tid, err := parseTID("cancel", args)
	if err != nil {
		return nil, err
	}
	if err := s.transfers.Cancel(ctx, tid); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("cancelled %d", tid)}, nil
}

// ///////////////////////////////////////////////
// Misc
// ///////////////////////////////////////////////

func (s *Session) cmdLog(_ context.Context, args []string) ([]string, error) {
	if s.logPath == "" {
		return nil, errors.New("no log file")
	}
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return nil, usage("log")
		}
		n = v
	}
	tail, err := logger.ReadTail(s.logPath, n)
	if err != nil {
		return nil, err
	}
	tail = strings.TrimRight(tail, "\r\n")
	if tail == "" {
		return nil, nil
	}
	return strings.Split(tail, "\n"), nil
}

func (s *Session) cmdHelp(context.Context, []string) ([]string, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		c := commands[name]
		out = append(out, fmt.Sprintf("%-16s %s", c.usage, c.help))
	}
	return out, nil
}
