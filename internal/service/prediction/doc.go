// Package prediction serves getPredictions: cache first, then one feature
// snapshot per user feeding every prediction type at once.
//
// Computation for a user is de-duplicated with singleflight, bounded by a
// per-user deadline, and never fails for lack of data: users below the
// activity threshold get the heuristic fallback set for their account age.
// A computation that overruns its deadline answers with the fallback set
// tagged "timeout", which is not cached.
package prediction
