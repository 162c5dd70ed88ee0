package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

// TabReader is the read side of the tab host used by the poller.
type TabReader interface {
	GetTab(ctx context.Context, tabID string) (cdpcontrol.TabInfo, error)
}

// Poller waits for a tab to finish loading.
type Poller struct {
	tabs     TabReader
	clock    Clock
	interval time.Duration
}

func NewPoller(tabs TabReader, clock Clock, interval time.Duration) *Poller {
	if clock == nil {
		clock = realClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{tabs: tabs, clock: clock, interval: interval}
}

// WaitForComplete checks the tab's status and sleeps one interval between
// checks until it reports complete. There is no attempt bound; only ctx
// ends the wait early. Query errors are returned as-is.
func (p *Poller) WaitForComplete(ctx context.Context, tabID string) (cdpcontrol.TabInfo, error) {
	for polls := 0; ; polls++ {
		tab, err := p.tabs.GetTab(ctx, tabID)
		if err != nil {
			return cdpcontrol.TabInfo{}, err
		}
		if tab.Status == cdpcontrol.StatusComplete {
			slog.Debug("delivery tab complete", "tab_id", tabID, "polls", polls)
			return tab, nil
		}
		slog.Debug("delivery waiting for tab", "tab_id", tabID, "status", tab.Status)
		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return cdpcontrol.TabInfo{}, err
		}
	}
}
