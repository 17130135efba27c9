package manager

import "github.com/ryandielhenn/prefixmgr/pkg/origin"

// Cmd names the operation an UpdateRequest carries.
type Cmd int

const (
	AddPrefixes Cmd = iota
	WithdrawPrefixes
	WithdrawPrefixesByType
	SyncPrefixesByType
)

func (c Cmd) String() string {
	switch c {
	case AddPrefixes:
		return "ADD_PREFIXES"
	case WithdrawPrefixes:
		return "WITHDRAW_PREFIXES"
	case WithdrawPrefixesByType:
		return "WITHDRAW_PREFIXES_BY_TYPE"
	case SyncPrefixesByType:
		return "SYNC_PREFIXES_BY_TYPE"
	default:
		return "UNKNOWN"
	}
}

// UpdateRequest is one record from the asynchronous request stream
// external producers submit through. Type and Prefixes are optional
// depending on Cmd; Submit drops and logs any request missing the
// fields its Cmd requires.
type UpdateRequest struct {
	Cmd      Cmd
	Type     *origin.PrefixType
	Prefixes []origin.PrefixEntry
}

func (r UpdateRequest) valid() bool {
	switch r.Cmd {
	case AddPrefixes, WithdrawPrefixes:
		return len(r.Prefixes) > 0
	case WithdrawPrefixesByType:
		return r.Type != nil
	case SyncPrefixesByType:
		return r.Type != nil
	default:
		return false
	}
}
