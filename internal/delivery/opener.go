package delivery

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

// OpenServiceTab opens the service's URL in a new foreground tab and waits
// until it has loaded.
func (o *Orchestrator) OpenServiceTab(ctx context.Context, key string) (cdpcontrol.TabInfo, error) {
	svc, err := o.table.Lookup(key)
	if err != nil {
		return cdpcontrol.TabInfo{}, err
	}

	created, err := o.host.CreateTab(ctx, svc.URL, true)
	if err != nil {
		return cdpcontrol.TabInfo{}, err
	}
	slog.Info("delivery service tab opened", "service", svc.Key, "tab_id", created.TargetID, "url", svc.URL)

	tab, err := o.poller.WaitForComplete(ctx, created.TargetID)
	if err != nil {
		return cdpcontrol.TabInfo{}, err
	}
	if tab.URL == "" {
		tab.URL = svc.URL
	}
	return tab, nil
}
