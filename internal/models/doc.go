// Package models holds inference for the habit-formation, streak-risk and
// optimal-timing models, the rule-based and account-age fallbacks used when
// a model or the data is missing, and the Registry that owns published
// artifacts.
//
// The Registry is an arena of immutable artifacts keyed by version plus one
// atomic "active" pointer per model family. Publishing swaps the pointer;
// an inference that already loaded the old artifact finishes against it and
// its result carries the old version tag, which the prediction cache later
// rejects.
package models
