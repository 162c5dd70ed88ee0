package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

func TestMenuItems(t *testing.T) {
	f := newFixture("https://example.org", "")
	items := f.svc.MenuItems()
	require.Len(t, items, 4)
	ids := []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID}
	assert.Equal(t, []string{MenuShare, MenuRate, MenuSelection, MenuPage}, ids)
}

func TestHandleMenuClickShareAndRateAnyCase(t *testing.T) {
	f := newFixture("https://example.org", "")

	res, err := f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: "share"})
	require.NoError(t, err)
	assert.Equal(t, "opened", res.Action)
	require.NotNil(t, res.Tab)

	_, err = f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: "Rate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://share.example", "https://rate.example"}, f.tabs.created)
}

func TestHandleMenuClickStoresSelection(t *testing.T) {
	f := newFixture("https://example.org/article", "")

	res, err := f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: MenuSelection, SelectionText: "quoted"})
	require.NoError(t, err)
	assert.Equal(t, "context_saved", res.Action)
	require.NotNil(t, f.prefs.pending)
	assert.Equal(t, "quoted", f.prefs.pending.Selection)
	assert.Equal(t, "https://example.org/article", f.prefs.pending.URL)

	_, err = f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: MenuSelection})
	requireCode(t, err, cdpcontrol.CodeValidation)
}

func TestHandleMenuClickStoresPage(t *testing.T) {
	f := newFixture("https://example.org", "")
	_, err := f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: MenuPage, PageURL: "https://given.example"})
	require.NoError(t, err)
	require.NotNil(t, f.prefs.pending)
	assert.Empty(t, f.prefs.pending.Selection)
	assert.Equal(t, "https://given.example", f.prefs.pending.URL)
}

func TestHandleMenuClickUnknown(t *testing.T) {
	f := newFixture("https://example.org", "")
	_, err := f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: "bogus"})
	requireCode(t, err, cdpcontrol.CodeValidation)
}

func TestHandleMenuClickMissingLink(t *testing.T) {
	f := newFixture("https://example.org", "")
	f.svc.opts.ShareURL = ""
	_, err := f.svc.HandleMenuClick(context.Background(), MenuClick{ItemID: MenuShare})
	requireCode(t, err, cdpcontrol.CodeValidation)
	assert.Empty(t, f.tabs.created)
}
