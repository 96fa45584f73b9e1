// Package templates selects and renders coaching message templates.
//
// Selection filters the active templates of a category by targeting
// predicate, prefers the requested tone, and picks one by weight using a
// hash of (experiment, user, category). The same user therefore lands in
// the same A/B variant on every evaluation until the experiment id or the
// eligible template set changes.
//
// Bodies and titles are Liquid templates rendered against the
// personalization variables built in vars.go.
package templates
