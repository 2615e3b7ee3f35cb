package jami

import "strings"

// Account detail keys used by the daemon.
const (
	detailEnable          = "Account.enable"
	detailAlias           = "Account.alias"
	detailUsername        = "Account.username"
	detailRegisteredName  = "Account.registeredName"
	detailType            = "Account.type"
	detailArchivePath     = "Account.archivePath"
	detailArchivePin      = "Account.archivePin"
	detailArchivePassword = "Account.archivePassword"
)

// Account is the subset of account details the bridge uses. The zero value
// stands for "no account".
type Account struct {
	ID             string
	Hash           string
	Alias          string
	RegisteredName string
	Enabled        bool
}

// IsZero reports whether a is the "no account" value.
func (a Account) IsZero() bool { return a.ID == "" }

// DisplayName returns the registered name, the alias, or the hash, whichever
// is set first.
func (a Account) DisplayName() string {
	switch {
	case a.RegisteredName != "":
		return a.RegisteredName
	case a.Alias != "":
		return a.Alias
	default:
		return a.Hash
	}
}

// accountFromDetails builds an Account from a getAccountDetails reply.
func accountFromDetails(id string, details map[string]string) Account {
	return Account{
		ID:             id,
		Hash:           strings.ReplaceAll(details[detailUsername], "ring:", ""),
		Alias:          details[detailAlias],
		RegisteredName: details[detailRegisteredName],
		Enabled:        details[detailEnable] == "true",
	}
}

// ImportType selects how AddAccount interprets its main argument.
type ImportType int

const (
	// ImportNone creates a fresh account; the argument is its alias.
	ImportNone ImportType = iota
	// ImportBackup restores from an archive file path.
	ImportBackup
	// ImportNetwork links to an existing device using its PIN.
	ImportNetwork
)

func (t ImportType) String() string {
	switch t {
	case ImportBackup:
		return "backup"
	case ImportNetwork:
		return "network"
	default:
		return "none"
	}
}

// accountCreationDetails returns the addAccount details for info and
// password under import type t.
func accountCreationDetails(info, password string, t ImportType) map[string]string {
	details := map[string]string{
		detailType:            "RING",
		detailArchivePassword: password,
	}
	switch t {
	case ImportBackup:
		details[detailArchivePath] = info
	case ImportNetwork:
		details[detailArchivePin] = info
	default:
		details[detailAlias] = info
	}
	return details
}

// IsHash reports whether s looks like a Jami account hash: 40 lowercase hex
// digits.
func IsHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
