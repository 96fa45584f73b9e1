// Package features turns a user's raw activity history into the fixed-shape
// domain.BehavioralSnapshot consumed by the prediction models.
//
// Snapshot computation is a pure function of (activities, window, location):
// identical input always yields an identical snapshot, which is what lets a
// cached prediction be reproduced on a cache-hit check. The Builder only adds
// the fetch from the activity store and the clock.
//
// Aggregate mode (BuildSamples) is used by the offline training pipeline. It
// cuts a user's history at several points in time and pairs the snapshot
// before each cut with the outcome after it. Samples carry no user id.
package features
