package notify

import "time"

// SetBackoff shortens retry waits in tests.
func (n *WebhookNotifier) SetBackoff(d time.Duration) { n.backoff = d }
