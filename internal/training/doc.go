// Package training is the batch retraining pipeline. It turns an activity
// export into labelled samples, fits each model family over a small
// hyperparameter grid with k-fold cross-validation, guards against
// regressions on a temporal holdout and publishes the winner into the
// model registry, the artifact store and the registry table.
//
// Publishing swaps the active pointer atomically. Superseded versions stay
// loaded for a grace period and are pruned by a later run.
package training
