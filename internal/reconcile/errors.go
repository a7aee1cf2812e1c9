package reconcile

import "fmt"

// NoChangesError is returned by MakeCommit when the patch left the working
// tree unchanged.
type NoChangesError struct {
	Dir string
}

func (e *NoChangesError) Error() string {
	return fmt.Sprintf("no changes to commit in %s", e.Dir)
}

// RepoInitError reports a working copy that could not be prepared.
type RepoInitError struct {
	Dir string
	Err error
}

func (e *RepoInitError) Error() string {
	return fmt.Sprintf("initializing repository %s: %v", e.Dir, e.Err)
}

func (e *RepoInitError) Unwrap() error { return e.Err }

// PushError reports a push the remote rejected. Stderr carries the remote's
// message with credentials redacted.
type PushError struct {
	Branch string
	Stderr string
	Err    error
}

func (e *PushError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("pushing branch %s: %s", e.Branch, e.Stderr)
	}
	return fmt.Sprintf("pushing branch %s: %v", e.Branch, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// BranchCollisionExhaustedError is returned when every candidate branch
// name is already taken on the remote.
type BranchCollisionExhaustedError struct {
	Base     string
	Attempts int
}

func (e *BranchCollisionExhaustedError) Error() string {
	return fmt.Sprintf("no free branch name for %s after %d attempts", e.Base, e.Attempts)
}
