// Package profile owns user personalization profiles: frequency and tone
// preferences, quiet hours, preferred send windows and per-category
// opt-in weights. Profiles change only on explicit user action; readers
// get domain.DefaultProfile for users who never set one.
package profile
