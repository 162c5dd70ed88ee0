package controller

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
	"github.com/dgnsrekt/asktoai/internal/preference"
)

const (
	MenuShare     = "Share"
	MenuRate      = "Rate"
	MenuSelection = "askToAISelection"
	MenuPage      = "askToAIPage"
)

// MenuItem is one context-menu entry. Contexts follow the browser's menu
// contexts: action, selection, page.
type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

func (s *Service) MenuItems() []MenuItem {
	return []MenuItem{
		{ID: MenuShare, Title: "Share", Contexts: []string{"action"}},
		{ID: MenuRate, Title: "Rate", Contexts: []string{"action"}},
		{ID: MenuSelection, Title: `Ask To AI: "%s"`, Contexts: []string{"selection"}},
		{ID: MenuPage, Title: "Ask To AI: (Current page URL)", Contexts: []string{"page"}},
	}
}

// MenuClick carries what the browser reports with a menu click. An empty
// PageURL means the active tab's URL.
type MenuClick struct {
	ItemID        string
	SelectionText string
	PageURL       string
}

type MenuClickResult struct {
	ItemID  string                     `json:"item_id"`
	Action  string                     `json:"action"`
	Tab     *cdpcontrol.TabInfo        `json:"tab,omitempty"`
	Pending *preference.PendingContext `json:"pending,omitempty"`
}

// HandleMenuClick opens the share or rate page, or stores the clicked
// selection or page URL for the next ask. Item IDs match case-insensitively.
func (s *Service) HandleMenuClick(ctx context.Context, click MenuClick) (MenuClickResult, error) {
	id := strings.TrimSpace(click.ItemID)
	switch {
	case strings.EqualFold(id, MenuShare):
		return s.openLink(ctx, MenuShare, s.opts.ShareURL)
	case strings.EqualFold(id, MenuRate):
		return s.openLink(ctx, MenuRate, s.opts.RateURL)
	case strings.EqualFold(id, MenuSelection):
		if err := s.requireNonEmpty(click.SelectionText, "selection_text"); err != nil {
			return MenuClickResult{}, err
		}
		return s.savePending(ctx, MenuSelection, click.SelectionText, click.PageURL)
	case strings.EqualFold(id, MenuPage):
		return s.savePending(ctx, MenuPage, "", click.PageURL)
	}
	return MenuClickResult{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "unknown menu item: " + id}
}

func (s *Service) openLink(ctx context.Context, id, url string) (MenuClickResult, error) {
	if err := s.requireNonEmpty(url, strings.ToLower(id)+" url"); err != nil {
		return MenuClickResult{}, err
	}
	tab, err := s.tabs.CreateTab(ctx, url, true)
	if err != nil {
		return MenuClickResult{}, err
	}
	slog.Info("menu link opened", "item_id", id, "tab_id", tab.TargetID, "url", url)
	return MenuClickResult{ItemID: id, Action: "opened", Tab: &tab}, nil
}

func (s *Service) savePending(ctx context.Context, id, selection, pageURL string) (MenuClickResult, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		tab, err := s.tabs.ActiveTab(ctx)
		if err != nil {
			return MenuClickResult{}, err
		}
		pageURL = tab.URL
	}

	pc := preference.PendingContext{Selection: selection, URL: pageURL, CreatedAt: s.now()}
	if err := s.prefs.SavePendingContext(ctx, pc); err != nil {
		return MenuClickResult{}, err
	}
	slog.Info("menu context stored", "item_id", id, "url", pageURL, "has_selection", selection != "")
	return MenuClickResult{ItemID: id, Action: "context_saved", Pending: &pc}, nil
}

// Install runs the one-time registration logging.
func (s *Service) Install(ctx context.Context) {
	items := s.MenuItems()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	key, err := s.prefs.SelectedService(ctx)
	if err != nil {
		slog.Warn("install preference unavailable", "error", err)
	}
	slog.Info("Ask to AI installed", "menu_items", strings.Join(ids, ","), "services", len(s.table.List()), "selected_service", key)
}
