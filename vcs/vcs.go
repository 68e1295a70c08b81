// Package vcs is the pull-request collaborator: it mirrors run progress
// into a single PR comment, found and updated via an embedded search tag.
package vcs

import (
	"context"

	"github.com/pithecene-io/foreman/types"
)

// Provider posts run progress to a pull request or issue.
type Provider interface {
	// UpsertComment creates or updates the run's progress comment. The
	// search tag identifies an existing comment to update; absent a
	// match, a new comment is created. Body must already contain the tag.
	UpsertComment(ctx context.Context, ref *types.PRRef, searchTag, body string) error
}

// Nop is a Provider that does nothing, for runs without a PR reference.
type Nop struct{}

func (Nop) UpsertComment(context.Context, *types.PRRef, string, string) error {
	return nil
}
