package pool

import (
	"fmt"
	"strings"
	"time"
)

// poolState is guarded by PooledDataSource.mu.
type poolState struct {
	// idle is ordered oldest-returned first; checkout pops from the end.
	idle []*PooledConnection
	// active is ordered by checkout time; index 0 is the reclamation candidate.
	active []*PooledConnection

	requestCount                     int64
	accumulatedRequestTime           time.Duration
	accumulatedCheckoutTime          time.Duration
	claimedOverdueConnectionCount    int64
	accumulatedCheckoutTimeOfOverdue time.Duration
	accumulatedWaitTime              time.Duration
	hadToWaitCount                   int64
	badConnectionCount               int64
}

func (s *poolState) removeActive(conn *PooledConnection) bool {
	for i, c := range s.active {
		if c == conn {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

// PoolStats is a point-in-time snapshot of a pool's state.
type PoolStats struct {
	DataSourceID string
	Active       int
	Idle         int
	MaxActive    int
	MaxIdle      int
	Waiting      int

	RequestCount                     int64
	AccumulatedRequestTime           time.Duration
	AccumulatedCheckoutTime          time.Duration
	ClaimedOverdueConnectionCount    int64
	AccumulatedCheckoutTimeOfOverdue time.Duration
	AccumulatedWaitTime              time.Duration
	HadToWaitCount                   int64
	BadConnectionCount               int64
}

// AverageRequestTime is the mean time a successful Checkout took.
func (s PoolStats) AverageRequestTime() time.Duration {
	if s.RequestCount == 0 {
		return 0
	}
	return s.AccumulatedRequestTime / time.Duration(s.RequestCount)
}

// AverageWaitTime is the mean time spent waiting by callers that had to wait.
func (s PoolStats) AverageWaitTime() time.Duration {
	if s.HadToWaitCount == 0 {
		return 0
	}
	return s.AccumulatedWaitTime / time.Duration(s.HadToWaitCount)
}

// AverageOverdueCheckoutTime is the mean checkout age of reclaimed connections.
func (s PoolStats) AverageOverdueCheckoutTime() time.Duration {
	if s.ClaimedOverdueConnectionCount == 0 {
		return 0
	}
	return s.AccumulatedCheckoutTimeOfOverdue / time.Duration(s.ClaimedOverdueConnectionCount)
}

// AverageCheckoutTime is the mean time connections stayed checked out.
func (s PoolStats) AverageCheckoutTime() time.Duration {
	if s.RequestCount == 0 {
		return 0
	}
	return s.AccumulatedCheckoutTime / time.Duration(s.RequestCount)
}

func (s PoolStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "===CONFIGURATION==============================================\n")
	fmt.Fprintf(&b, " datasource             %s\n", s.DataSourceID)
	fmt.Fprintf(&b, " maxActive              %d\n", s.MaxActive)
	fmt.Fprintf(&b, " maxIdle                %d\n", s.MaxIdle)
	fmt.Fprintf(&b, "===STATUS=====================================================\n")
	fmt.Fprintf(&b, " activeConnections      %d\n", s.Active)
	fmt.Fprintf(&b, " idleConnections        %d\n", s.Idle)
	fmt.Fprintf(&b, " waiting                %d\n", s.Waiting)
	fmt.Fprintf(&b, " requestCount           %d\n", s.RequestCount)
	fmt.Fprintf(&b, " averageRequestTime     %s\n", s.AverageRequestTime())
	fmt.Fprintf(&b, " averageCheckoutTime    %s\n", s.AverageCheckoutTime())
	fmt.Fprintf(&b, " claimedOverdue         %d\n", s.ClaimedOverdueConnectionCount)
	fmt.Fprintf(&b, " averageOverdueCheckout %s\n", s.AverageOverdueCheckoutTime())
	fmt.Fprintf(&b, " hadToWait              %d\n", s.HadToWaitCount)
	fmt.Fprintf(&b, " averageWaitTime        %s\n", s.AverageWaitTime())
	fmt.Fprintf(&b, " badConnectionCount     %d\n", s.BadConnectionCount)
	fmt.Fprintf(&b, "==============================================================")
	return b.String()
}
