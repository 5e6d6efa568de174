package interfaces

import "context"

// Prompter presents the keep-or-sync confirmation shown when a widget
// reports a score for a module the user already completed. keepScores
// true leaves the module score untouched and lets the widget track its
// own score; false re-opens the module for syncing. The host shows
// this at most once per page load.
type Prompter interface {
	ConfirmScoreSync(ctx context.Context, widgetID string) (keepScores bool, err error)
}
