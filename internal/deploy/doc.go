// Package deploy updates the working copies of tracked repositories when a
// webhook event or an operator trigger is received.
//
// The Dispatcher verifies the authenticity of received webhook events,
// resolves the repository they refer to and submits an update attempt to the
// LockManager.
//
// The LockManager serializes update attempts per repository. Attempts for
// different repositories run in parallel on a bounded worker pool. A trigger
// that is received while an attempt for the same repository is in progress
// is coalesced into a single follow-up attempt.
//
// The Executor runs a single update attempt. It pulls the repository,
// reinstalls the dependencies if the dependency file changed and runs the
// health check. When installing the dependencies or the health check fails,
// the working copy is reset to the last commit that was deployed
// successfully and the repository is marked as broken.
//
// The state of all repositories is kept in the Store, the HTTPService serves
// a snapshot of it.
package deploy
