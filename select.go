package corowrt

import (
	"github.com/corowrt/corowrt/internal/selectmux"
	"github.com/corowrt/corowrt/internal/timer"
)

// SelectOp picks which side of a channel a SelectCase attempts.
type SelectOp = selectmux.Op

const (
	SelectSend SelectOp = selectmux.OpSend
	SelectRecv SelectOp = selectmux.OpRecv
)

// SelectFairness picks how Select resolves multiple simultaneously
// ready cases.
type SelectFairness = selectmux.Fairness

const (
	FirstCaseWins  SelectFairness = selectmux.FirstClauseWins
	RandomizedCase SelectFairness = selectmux.Randomized
)

// SelectCase is one arm of a Select call.
type SelectCase struct {
	Channel *Channel
	Op      SelectOp
	SendVal any // only read when Op == SelectSend
}

// SelectResult reports which case a Select call resolved and, for a
// recv case, the value it received.
type SelectResult struct {
	Index int
	Value any
}

// timerAdapter satisfies selectmux.TimerService over the runtime's
// shared timer.Service, so selectmux never needs to import
// internal/timer directly.
type timerAdapter struct{ svc *timer.Service }

func (a timerAdapter) Schedule(deadlineNs int64, cb func()) selectmux.Cancellable {
	h := a.svc.Schedule(deadlineNs, cb)
	return cancellableHandle{h}
}

type cancellableHandle struct{ h timer.Handle }

func (c cancellableHandle) Cancel() bool { return c.h.Cancel() }

// Select blocks self until exactly one case in cases is ready, a
// deadline passes, or tok is cancelled; deadlineNs is absolute
// (platform.NowNanos scale), zero meaning no deadline.
func (r *Runtime) Select(self *Coroutine, cases []SelectCase, fairness SelectFairness, deadlineNs int64, tok *CancelToken) (SelectResult, error) {
	clauses := make([]selectmux.Clause, len(cases))
	for i, c := range cases {
		clauses[i] = selectmux.Clause{
			Channel: c.Channel.internalChannel(),
			Op:      c.Op,
			SendVal: c.SendVal,
		}
	}
	res, err := selectmux.Select(self, clauses, fairness, deadlineNs, tok, timerAdapter{r.sched.Timer()}, func() { r.sched.Unpark(self) })
	if err != nil {
		return SelectResult{}, WrapOp("Select", err)
	}
	return SelectResult{Index: res.Index, Value: res.Value}, nil
}
