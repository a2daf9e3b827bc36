package tmexio

import (
	"context"
	"runtime/debug"

	"github.com/hashicorp/go-multierror"
)

// ReleaseFunc releases a scoped resource. It receives the outcome of the
// dispatch that acquired the resource: nil on success, otherwise the error
// that ended the dispatch.
type ReleaseFunc func(ctx context.Context, err error) error

// ExitStack releases scoped resources in reverse acquisition order.
// It is owned by a single dispatch and is not safe for concurrent use.
type ExitStack struct {
	releases []namedRelease
	closed   bool
}

type namedRelease struct {
	name string
	fn   ReleaseFunc
}

// Push registers a release function. Nil functions are ignored.
func (s *ExitStack) Push(release ReleaseFunc) {
	s.PushNamed("", release)
}

// PushNamed registers a release function owned by the named resource. The
// name identifies the release in errors when it panics.
func (s *ExitStack) PushNamed(name string, release ReleaseFunc) {
	if release == nil {
		return
	}
	s.releases = append(s.releases, namedRelease{name: name, fn: release})
}

// Len returns the number of pending releases.
func (s *ExitStack) Len() int {
	return len(s.releases)
}

// Close runs every pending release, last pushed first. Every release runs
// even when an earlier one fails; failures are combined into one error.
// Once a release fails, the releases still to run see that failure in their
// outcome, so a resource acquired earlier never treats the dispatch as
// successful. Releases run under a context that is not cancelled with ctx.
// Calling Close again does nothing.
func (s *ExitStack) Close(ctx context.Context, outcome error) error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx = context.WithoutCancel(ctx)

	var result *multierror.Error
	for i := len(s.releases) - 1; i >= 0; i-- {
		if err := runRelease(ctx, s.releases[i], outcome); err != nil {
			result = multierror.Append(result, err)
			if outcome == nil {
				outcome = err
			} else {
				outcome = multierror.Append(&multierror.Error{}, outcome, err)
			}
		}
	}
	s.releases = nil

	return result.ErrorOrNil()
}

// runRelease calls release, converting a panic into an error so the
// remaining releases still run.
func runRelease(ctx context.Context, release namedRelease, outcome error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			event := "release"
			if release.name != "" {
				event += ":" + release.name
			}
			err = &PanicError{Event: event, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return release.fn(ctx, outcome)
}
