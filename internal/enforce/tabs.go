package enforce

import "context"

// Tab is an open browser tab as reported by the client.
type Tab struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// TabController is the outbound side of enforcement. The API layer
// implements it by queueing commands that the browser client polls
// and executes.
type TabController interface {
	// List returns the currently open tabs.
	List(ctx context.Context) ([]Tab, error)
	// Redirect navigates a tab to the given URL.
	Redirect(ctx context.Context, tabID int, url string) error
	// SetBadge updates a tab's badge text and background color. Empty
	// text clears the badge.
	SetBadge(ctx context.Context, tabID int, text, color string) error
	// Notify shows a best-effort user notification.
	Notify(ctx context.Context, title, message string) error
}
