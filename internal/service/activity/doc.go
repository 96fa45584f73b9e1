// Package activity records habit completions and serves the activity
// history the feature builder and the training pipeline read.
//
// Logging an activity invalidates the user's cached predictions, since
// their snapshot has changed, and publishes an activity.logged event.
// Neither side effect can fail the write: both are logged and dropped.
package activity
