package swap

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/claimswap/claimswap/pkg/fees"
)

// Swap is one escrowed two-party exchange order. Terms are locked at
// creation; everything below them mutates under the swap mutex.
type Swap struct {
	mu sync.Mutex

	ID    uint64
	Terms Terms

	CreatedAt time.Time

	// Locked at match time.
	Matcher        common.Address
	FulfillmentFee uint64 // FeeScale-scaled, frozen once matched
	ReportID       uint64
	FeeRecipient   common.Address
	Start          time.Time

	// Terminal flags: either {Cancelled} or {Matched, Finished}.
	Active    bool
	Matched   bool
	Cancelled bool
	Finished  bool

	receiver *fees.Receiver
}

// View is a copyable snapshot of a swap for read surfaces.
type View struct {
	ID             uint64
	Terms          Terms
	CreatedAt      time.Time
	Matcher        common.Address
	FulfillmentFee uint64
	ReportID       uint64
	FeeRecipient   common.Address
	Start          time.Time
	Active         bool
	Matched        bool
	Cancelled      bool
	Finished       bool
}

func (s *Swap) view() View {
	return View{
		ID:             s.ID,
		Terms:          s.Terms.clone(),
		CreatedAt:      s.CreatedAt,
		Matcher:        s.Matcher,
		FulfillmentFee: s.FulfillmentFee,
		ReportID:       s.ReportID,
		FeeRecipient:   s.FeeRecipient,
		Start:          s.Start,
		Active:         s.Active,
		Matched:        s.Matched,
		Cancelled:      s.Cancelled,
		Finished:       s.Finished,
	}
}

// digest hashes the mutable swap record; match presents it as an optimistic
// lock against acting on a stale snapshot.
func (s *Swap) digest() []byte {
	var buf []byte
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], s.ID)
	buf = append(buf, u64[:]...)
	buf = append(buf, s.Matcher.Bytes()...)
	binary.BigEndian.PutUint64(u64[:], s.FulfillmentFee)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], s.ReportID)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], uint64(s.Start.UnixNano()))
	buf = append(buf, u64[:]...)
	buf = append(buf, flag(s.Active), flag(s.Matched), flag(s.Cancelled), flag(s.Finished))
	return crypto.Keccak256(buf)
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
