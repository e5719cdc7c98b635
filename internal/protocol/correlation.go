package protocol

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// CorrelationID ties an Ack to the request that caused it. Zero means none.
type CorrelationID uint32

func (c CorrelationID) String() string { return fmt.Sprintf("%08x", uint32(c)) }

// ParseCorrelation reads the hex form written by String.
func ParseCorrelation(s string) (CorrelationID, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: correlation %q", ErrMalformed, s)
	}
	return CorrelationID(v), nil
}

// Correlator hands out correlation ids. Ids from one Correlator do not repeat
// until the 32 bit counter wraps.
type Correlator struct {
	next atomic.Uint32
}

// NewCorrelator starts at a random point so ids from an earlier process or
// session are unlikely to be reused soon after a restart.
func NewCorrelator() *Correlator {
	c := &Correlator{}
	c.next.Store(uuid.New().ID())
	return c
}

func (c *Correlator) Next() CorrelationID {
	for {
		if v := c.next.Add(1); v != 0 {
			return CorrelationID(v)
		}
	}
}
