// Package decision decides whether a user gets a coaching message this
// cycle and which category it is.
//
// Evaluation is a pure function of its Input. Every registered trigger
// that fires makes the user a candidate; the highest category priority
// wins and equal priorities go to the trigger registered last. The
// winner is then checked against quiet hours, the frequency cooldown and
// the per-category weight. At most one category comes out of a cycle.
package decision
