// Package services holds the immutable table of AI chat front-ends that
// prompts can be delivered to.
package services

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dgnsrekt/asktoai/internal/cdpcontrol"
)

const (
	// KeyAll is the pseudo service that fans a prompt out to every service.
	KeyAll = "allAI"
	// KeyGoogle never forces a new tab; any page counts as "on" it.
	KeyGoogle = "google"
	// DefaultKey is used when no preference has been stored.
	DefaultKey = "chatgpt"
)

// Service is one AI chat front-end.
type Service struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

var defaultServices = []Service{
	{Key: "chatgpt", Name: "ChatGPT", URL: "https://chat.openai.com"},
	{Key: "claude", Name: "Claude", URL: "https://claude.ai"},
	{Key: "deepseek", Name: "DeepSeek", URL: "https://chat.deepseek.com"},
	{Key: "copilot", Name: "Copilot", URL: "https://copilot.microsoft.com"},
	{Key: "gemini", Name: "Gemini", URL: "https://gemini.google.com"},
	{Key: "grok", Name: "Grok", URL: "https://x.ai/grok"},
	{Key: "meta", Name: "Meta AI", URL: "https://meta.ai"},
	{Key: "mistral", Name: "Mistral", URL: "https://chat.mistral.ai"},
	{Key: "google", Name: "Google", URL: "https://www.google.com"},
	{Key: "perplexity", Name: "Perplexity", URL: "https://www.perplexity.ai"},
}

// Sites that need the long settle delay before their input is usable.
var defaultSlowHosts = []string{
	"facebook.com",
	"instagram.com",
	"meta.ai",
	"messenger.com",
	"copilot.microsoft.com",
	"github.com/features/copilot",
	"grok.com",
	"x.ai",
	"deepseek.com",
	"mistral.ai",
	"mail.google.com",
	"gmail.com",
	"claude.ai",
	"openai.com",
	"gemini.google.com",
	"perplexity.ai",
}

// Table is a read-only service registry. The zero value is empty; use
// Default or NewTable.
type Table struct {
	order     []Service
	byKey     map[string]Service
	slowHosts []string
}

// Default returns the built-in table.
func Default() *Table {
	t, err := NewTable(defaultServices, defaultSlowHosts)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates and copies the given services. Order is preserved and
// defines the "send to all" sequence.
func NewTable(list []Service, slowHosts []string) (*Table, error) {
	t := &Table{
		order:     make([]Service, 0, len(list)),
		byKey:     make(map[string]Service, len(list)),
		slowHosts: make([]string, 0, len(slowHosts)),
	}
	for i, s := range list {
		s.Key = strings.TrimSpace(s.Key)
		s.URL = strings.TrimSpace(s.URL)
		if s.Key == "" {
			return nil, fmt.Errorf("services: entry %d: key is required", i)
		}
		if s.Key == KeyAll {
			return nil, fmt.Errorf("services: %q is reserved", KeyAll)
		}
		if _, dup := t.byKey[s.Key]; dup {
			return nil, fmt.Errorf("services: duplicate key %q", s.Key)
		}
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("services: %s: invalid url %q", s.Key, s.URL)
		}
		if s.Name == "" {
			s.Name = s.Key
		}
		t.order = append(t.order, s)
		t.byKey[s.Key] = s
	}
	for _, h := range slowHosts {
		if h = strings.TrimSpace(h); h != "" {
			t.slowHosts = append(t.slowHosts, h)
		}
	}
	return t, nil
}

// Lookup returns the service for key. Unknown keys yield UNKNOWN_SERVICE,
// with the closest known key suggested when one is near.
func (t *Table) Lookup(key string) (Service, error) {
	if s, ok := t.byKey[key]; ok {
		return s, nil
	}
	msg := "unknown service: " + key
	if guess := t.suggest(key); guess != "" {
		msg += " (did you mean " + guess + "?)"
	}
	return Service{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeUnknownService, Message: msg}
}

// Valid reports whether key names a service or the fan-out pseudo service.
func (t *Table) Valid(key string) bool {
	if key == KeyAll {
		return true
	}
	_, ok := t.byKey[key]
	return ok
}

// List returns a copy of all services in table order.
func (t *Table) List() []Service {
	out := make([]Service, len(t.order))
	copy(out, t.order)
	return out
}

// AllOrder returns the keys visited by a "send to all" run.
func (t *Table) AllOrder() []string {
	keys := make([]string, 0, len(t.order))
	for _, s := range t.order {
		keys = append(keys, s.Key)
	}
	return keys
}

// SlowHosts returns a copy of the slow-site substrings.
func (t *Table) SlowHosts() []string {
	out := make([]string, len(t.slowHosts))
	copy(out, t.slowHosts)
	return out
}

// IsSlow reports whether pageURL contains any slow-site substring.
func (t *Table) IsSlow(pageURL string) bool {
	for _, h := range t.slowHosts {
		if strings.Contains(pageURL, h) {
			return true
		}
	}
	return false
}

// Matches reports whether currentURL already belongs to the service.
// The google service matches everything. Otherwise the first labels of
// both hosts (without "www.") are compared by containment either way.
func (t *Table) Matches(currentURL, key string) bool {
	if key == KeyGoogle {
		return true
	}
	s, ok := t.byKey[key]
	if !ok {
		return false
	}
	serviceHost := bareHost(s.URL)
	currentHost := bareHost(currentURL)
	if serviceHost == "" || currentHost == "" {
		return false
	}
	return strings.Contains(currentHost, firstLabel(serviceHost)) ||
		strings.Contains(serviceHost, firstLabel(currentHost))
}

func (t *Table) suggest(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	keys := t.AllOrder()
	sort.Strings(keys)
	best, bestDist := "", -1
	for _, k := range keys {
		d := levenshtein.ComputeDistance(key, strings.ToLower(k))
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	if bestDist < 0 || bestDist > 3 {
		return ""
	}
	return best
}

func bareHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Replace(u.Hostname(), "www.", "", 1)
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(host, ".")
	return label
}
