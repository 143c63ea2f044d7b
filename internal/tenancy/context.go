// Package tenancy carries the authenticated practice through a request's
// context. Store queries filter on this id, so a handler that loses it
// fails closed instead of reading across practices.
package tenancy

import "context"

type practiceKey struct{}

// WithPracticeID stores the practice id in context.
func WithPracticeID(ctx context.Context, practiceID string) context.Context {
	return context.WithValue(ctx, practiceKey{}, practiceID)
}

// PracticeIDFromContext extracts the practice id. A stored empty string
// counts as absent.
func PracticeIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(practiceKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
