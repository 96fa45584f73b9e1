// Package delivery owns the coaching message lifecycle after generation.
//
// The Tracker is the only writer of message status. Transitions follow a
// fixed table (see CanTransition) and are persisted compare-and-set on the
// previous status, so a delivery sweep and a client read callback racing on
// the same message cannot both win.
//
// The Service runs the sweeps the scheduler drives: delivering due
// messages through a Deliverer, expiring delivered messages nobody
// touched, flagging messages stuck in scheduled, the daily rollup and
// retention cleanup.
package delivery
