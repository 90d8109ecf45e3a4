package bookmarks

import (
	"regexp"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
)

// NamespaceMode selects how a repo's infinitepush namespace pattern
// constrains which bookmark kind an operation may target.
type NamespaceMode int

const (
	// AnyKind classifies by pattern: matching names are scratch, others
	// public.
	AnyKind NamespaceMode = iota
	// OnlyScratch rejects any operation whose target isn't a scratch
	// bookmark.
	OnlyScratch
	// OnlyPublic rejects any operation whose target matches the scratch
	// pattern.
	OnlyPublic
)

// NamespacePolicy enforces the repo's scratch/public namespace rules.
// Pattern is nil when no infinitepush namespace is configured for the
// repo.
type NamespacePolicy struct {
	Mode    NamespaceMode
	Pattern *regexp.Regexp
}

func (p NamespacePolicy) patternString() string {
	if p.Pattern == nil {
		return ""
	}
	return p.Pattern.String()
}

func (p NamespacePolicy) matches(name string) bool {
	return p.Pattern != nil && p.Pattern.MatchString(name)
}

// classify determines name's actual kind under this policy, or fails if
// the policy forbids name's classification outright.
func (p NamespacePolicy) classify(name string) (coretypes.BookmarkKind, error) {
	switch p.Mode {
	case OnlyScratch:
		if p.Pattern == nil {
			return 0, &coreerrors.ScratchDisabled{Name: name}
		}
		if !p.matches(name) {
			return 0, &coreerrors.InvalidBookmarkKind{Name: name, Pattern: p.patternString()}
		}
		return coretypes.Scratch, nil
	case OnlyPublic:
		if p.matches(name) {
			return 0, &coreerrors.InvalidBookmarkKind{Name: name, Pattern: p.patternString()}
		}
		return coretypes.Public, nil
	default: // AnyKind
		if p.matches(name) {
			return coretypes.Scratch, nil
		}
		return coretypes.Public, nil
	}
}

// checkIntendedKind classifies name and fails if the classification
// disagrees with the kind the caller's chosen operation (e.g. CreateScratch
// vs Create) intends to target.
func (p NamespacePolicy) checkIntendedKind(name string, intended coretypes.BookmarkKind) error {
	actual, err := p.classify(name)
	if err != nil {
		return err
	}
	if actual != intended {
		return &coreerrors.InvalidBookmarkKind{Name: name, Pattern: p.patternString()}
	}
	return nil
}

// ACL authorises a caller identity against a bookmark name. An absent
// identity ("", false from corecontext.IdentityFromContext) is passed
// through as an empty string; ACL implementations decide whether
// anonymous operations are admitted.
type ACL interface {
	Allowed(user, bookmarkName string) bool
}

// AllowAllACL admits every operation regardless of identity, the default
// when a repo configures no bookmark ACL.
type AllowAllACL struct{}

func (AllowAllACL) Allowed(string, string) bool { return true }
