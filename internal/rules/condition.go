package rules

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"emailagent/internal/model"
)

// Predicate names accepted in a rule's conditions.
const (
	SenderContains        = "sender_contains"
	SenderDomain          = "sender_domain"
	SubjectContains       = "subject_contains"
	BodyContains          = "body_contains"
	AttachmentNameMatches = "attachment_name_matches"
	HasAttachments        = "has_attachments"
)

var ErrInvalidRule = errors.New("invalid rule definition")

type predicate func(s *model.EmailSummary) bool

type builder func(value any) (predicate, error)

var vocabulary = map[string]builder{
	SenderContains:        containsIn(func(s *model.EmailSummary) string { return s.Sender }),
	SubjectContains:       containsIn(func(s *model.EmailSummary) string { return s.Subject }),
	BodyContains:          containsIn(func(s *model.EmailSummary) string { return s.BodyPreview }),
	SenderDomain:          senderDomain,
	AttachmentNameMatches: attachmentGlob,
	HasAttachments:        hasAttachments,
}

// Predicates lists the supported condition names, sorted.
func Predicates() []string {
	names := make([]string, 0, len(vocabulary))
	for name := range vocabulary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compiled is a validated rule ready for evaluation.
type Compiled struct {
	Rule       model.ClassificationRule
	predicates []predicate
}

// Compile validates the rule's conditions against the predicate vocabulary.
func Compile(rule model.ClassificationRule) (*Compiled, error) {
	if len(rule.Conditions) == 0 {
		return nil, fmt.Errorf("%w: rule %d has no conditions", ErrInvalidRule, rule.ID)
	}
	if !rule.TargetCategory.Valid() {
		return nil, fmt.Errorf("%w: rule %d targets unknown category %q", ErrInvalidRule, rule.ID, rule.TargetCategory)
	}

	// 按名字排序，求值顺序与 map 遍历无关
	names := make([]string, 0, len(rule.Conditions))
	for name := range rule.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &Compiled{Rule: rule, predicates: make([]predicate, 0, len(names))}
	for _, name := range names {
		build, ok := vocabulary[name]
		if !ok {
			return nil, fmt.Errorf("%w: rule %d uses unsupported predicate %q", ErrInvalidRule, rule.ID, name)
		}
		p, err := build(rule.Conditions[name])
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d predicate %q: %v", ErrInvalidRule, rule.ID, name, err)
		}
		c.predicates = append(c.predicates, p)
	}
	return c, nil
}

// Matches reports whether every condition holds for s.
func (c *Compiled) Matches(s *model.EmailSummary) bool {
	for _, p := range c.predicates {
		if !p(s) {
			return false
		}
	}
	return len(c.predicates) > 0
}

func stringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", errors.New("empty value")
	}
	return s, nil
}

func containsIn(field func(*model.EmailSummary) string) builder {
	return func(v any) (predicate, error) {
		needle, err := stringValue(v)
		if err != nil {
			return nil, err
		}
		return func(s *model.EmailSummary) bool {
			return strings.Contains(strings.ToLower(field(s)), needle)
		}, nil
	}
}

func senderDomain(v any) (predicate, error) {
	domain, err := stringValue(v)
	if err != nil {
		return nil, err
	}
	domain = strings.TrimPrefix(domain, "@")
	return func(s *model.EmailSummary) bool {
		addr := strings.ToLower(strings.TrimSpace(s.Sender))
		// "Name <user@host>" 形式
		if i := strings.LastIndexByte(addr, '<'); i >= 0 {
			addr = strings.TrimSuffix(addr[i+1:], ">")
		}
		at := strings.LastIndexByte(addr, '@')
		return at >= 0 && addr[at+1:] == domain
	}, nil
}

func attachmentGlob(v any) (predicate, error) {
	pattern, err := stringValue(v)
	if err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return func(s *model.EmailSummary) bool {
		for _, name := range s.AttachmentNames {
			if ok, _ := path.Match(pattern, strings.ToLower(name)); ok {
				return true
			}
		}
		return false
	}, nil
}

func hasAttachments(v any) (predicate, error) {
	want, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", v)
	}
	return func(s *model.EmailSummary) bool {
		return s.HasAttachments == want
	}, nil
}
