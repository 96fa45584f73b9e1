// Package coaching runs one generation cycle per user: predictions,
// decision, template, message. GenerateForUser is shared by the manual
// admin trigger and the scheduled sweep, so both obey the same cooldown
// and write at most one message per cycle.
package coaching
