package xa

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// FormatID tags the xids minted by this package.
const FormatID = 0x4653

// Xid identifies one branch of a global transaction.
type Xid struct {
	FormatID int
	GlobalID string
	BranchID string
}

// NewXid mints the xid of the first branch of a new global transaction.
func NewXid() Xid {
	return Xid{FormatID: FormatID, GlobalID: uuid.NewString(), BranchID: "1"}
}

// Branch returns the xid of the n-th branch of the same global transaction.
func (x Xid) Branch(n int) Xid {
	return Xid{FormatID: x.FormatID, GlobalID: x.GlobalID, BranchID: strconv.Itoa(n)}
}

// IsZero reports whether the xid is unset.
func (x Xid) IsZero() bool {
	return x == Xid{}
}

func (x Xid) String() string {
	return fmt.Sprintf("%d:%s:%s", x.FormatID, x.GlobalID, x.BranchID)
}

// Flags modify Start, End and Recover.
type Flags int

const (
	TMNoFlags    Flags = 0
	TMJoin       Flags = 0x00200000
	TMEndRScan   Flags = 0x00800000
	TMStartRScan Flags = 0x01000000
	TMSuspend    Flags = 0x02000000
	TMSuccess    Flags = 0x04000000
	TMResume     Flags = 0x08000000
	TMFail       Flags = 0x20000000
	TMOnePhase   Flags = 0x40000000
)

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Vote is the answer of a branch to Prepare.
type Vote int

const (
	// XAOK means the branch is prepared and must be committed or rolled back.
	XAOK Vote = 0
	// XARdOnly means the branch wrote nothing and is already finished.
	XARdOnly Vote = 3
)

func (v Vote) String() string {
	switch v {
	case XAOK:
		return "XA_OK"
	case XARdOnly:
		return "XA_RDONLY"
	default:
		return fmt.Sprintf("Vote(%d)", int(v))
	}
}
