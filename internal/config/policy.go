package config

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/scmcore/engine/internal/bookmarks"
)

// policyDoc is the on-disk shape of a repo's bookmark policy: the
// infinitepush namespace pattern and a list of ACL rules evaluated in
// order, first match wins. BurntSushi/toml decodes it directly into this
// typed struct rather than through viper's dynamic map, since this
// document has a fixed schema and benefits from toml's strict-decode
// unknown-key errors.
type policyDoc struct {
	Namespace struct {
		Mode    string `toml:"mode"` // "any", "only_scratch", "only_public"
		Pattern string `toml:"pattern"`
	} `toml:"namespace"`
	ACL []aclRule `toml:"acl"`
}

type aclRule struct {
	BookmarkPattern string   `toml:"bookmark_pattern"`
	Users           []string `toml:"users"`
	AllowAnonymous  bool     `toml:"allow_anonymous"`
}

// PolicySnapshot is one immutable load of the policy document: a compiled
// NamespacePolicy and an ACL, held together so both are consulted as a
// single immutable snapshot across one operation's lifetime, never
// swapped mid-operation.
type PolicySnapshot struct {
	Namespace bookmarks.NamespacePolicy
	rules     []compiledRule
}

type compiledRule struct {
	pattern        *regexp.Regexp
	users          map[string]bool
	allowAnonymous bool
}

// Allowed implements bookmarks.ACL: the first rule whose bookmark pattern
// matches name decides the outcome; no matching rule denies.
func (s *PolicySnapshot) Allowed(user, bookmarkName string) bool {
	for _, r := range s.rules {
		if !r.pattern.MatchString(bookmarkName) {
			continue
		}
		if user == "" {
			return r.allowAnonymous
		}
		return r.users[user]
	}
	return false
}

func compile(doc policyDoc) (*PolicySnapshot, error) {
	snap := &PolicySnapshot{}

	switch doc.Namespace.Mode {
	case "", "any":
		snap.Namespace.Mode = bookmarks.AnyKind
	case "only_scratch":
		snap.Namespace.Mode = bookmarks.OnlyScratch
	case "only_public":
		snap.Namespace.Mode = bookmarks.OnlyPublic
	default:
		return nil, fmt.Errorf("config: policy: unknown namespace mode %q", doc.Namespace.Mode)
	}
	if doc.Namespace.Pattern != "" {
		re, err := regexp.Compile(doc.Namespace.Pattern)
		if err != nil {
			return nil, fmt.Errorf("config: policy: namespace pattern: %w", err)
		}
		snap.Namespace.Pattern = re
	}

	for _, r := range doc.ACL {
		re, err := regexp.Compile(r.BookmarkPattern)
		if err != nil {
			return nil, fmt.Errorf("config: policy: acl rule %q: %w", r.BookmarkPattern, err)
		}
		users := make(map[string]bool, len(r.Users))
		for _, u := range r.Users {
			users[u] = true
		}
		snap.rules = append(snap.rules, compiledRule{pattern: re, users: users, allowAnonymous: r.AllowAnonymous})
	}
	return snap, nil
}

func loadSnapshot(path string) (*PolicySnapshot, error) {
	var doc policyDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("config: policy: decode %s: %w", path, err)
	}
	return compile(doc)
}

// PolicyWatcher holds the current PolicySnapshot behind an atomic pointer
// and reloads it whenever the backing file changes, so in-flight bookmark
// operations keep the snapshot they started with while new operations
// pick up the new one as soon as the write settles.
type PolicyWatcher struct {
	current atomic.Pointer[PolicySnapshot]
	watcher *fsnotify.Watcher
	onError func(error)
}

// WatchPolicy loads path once synchronously, then starts a background
// fsnotify watch that reloads and atomically swaps the snapshot on every
// write/create event. onError receives reload failures (including the
// ones after a transient partial write); the previous snapshot remains
// live until a reload succeeds. onError may be nil.
func WatchPolicy(path string, onError func(error)) (*PolicyWatcher, error) {
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: policy: start watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: policy: watch %s: %w", path, err)
	}

	pw := &PolicyWatcher{watcher: w, onError: onError}
	pw.current.Store(snap)

	go pw.loop(path)
	return pw, nil
}

func (pw *PolicyWatcher) loop(path string) {
	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			snap, err := loadSnapshot(path)
			if err != nil {
				if pw.onError != nil {
					pw.onError(err)
				}
				continue
			}
			pw.current.Store(snap)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			if pw.onError != nil {
				pw.onError(err)
			}
		}
	}
}

// Snapshot returns the current immutable policy. Callers should fetch it
// once at the start of an operation and use that value throughout.
func (pw *PolicyWatcher) Snapshot() *PolicySnapshot { return pw.current.Load() }

// Close stops the background watch goroutine.
func (pw *PolicyWatcher) Close() error { return pw.watcher.Close() }

// StaticPolicy loads path once with no watch, for callers (tests, one-shot
// CLI invocations) that don't need hot reload.
func StaticPolicy(path string) (*PolicySnapshot, error) { return loadSnapshot(path) }
