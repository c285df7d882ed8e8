// Package metric provides error functions for ranking sampler runs. Every
// function takes a batch of samples and the matching gradients of the log
// target density, returns a score where lower is better, and returns +Inf for
// input it cannot score.
package metric
