package importer

// resolve.go finds or creates the entities a committed row references: the
// contact a deal belongs to and the CRM user it is assigned to. Lookups
// are cached for the duration of one commit run so a file with two hundred
// deals for the same seller hits the store once.

import (
	"context"
	"strings"
	"sync"
)

// phoneSuffixLen is how many trailing digits of a phone number are
// compared. Brazilian numbers gain and lose area-code and ninth-digit
// prefixes between exports, so only the suffix is stable.
const phoneSuffixLen = 8

// Resolver resolves contact and assignee references during a commit run.
// One Resolver is built per run; its caches are never invalidated.
type Resolver struct {
	repo Repository

	mu       sync.Mutex
	contacts map[string]string // cache key -> contact ID
	users    []User
	haveUser bool
}

// NewResolver builds a resolver for one commit run.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{
		repo:     repo,
		contacts: make(map[string]string),
	}
}

// ResolveContact returns the ID of the contact the record references,
// trying email, tax ID, phone suffix, then exact name, creating the
// contact when nothing matches but a name is present. Returns "" when the
// record carries no usable contact reference at all.
func (r *Resolver) ResolveContact(ctx context.Context, rec *CanonicalRecord, batchID string) (string, error) {
	key := contactCacheKey(rec)
	if key == "" {
		return "", nil
	}

	r.mu.Lock()
	id, hit := r.contacts[key]
	r.mu.Unlock()
	if hit {
		return id, nil
	}

	id, err := r.findContact(ctx, rec)
	if err != nil {
		return "", err
	}

	if id == "" && rec.FullName() != "" {
		id, err = r.repo.CreateContact(ctx, ContactFields{
			GivenName:  rec.GivenName,
			FamilyName: rec.FamilyName,
			Email:      rec.Keys.Email,
			Phone:      rec.Phone,
			TaxID:      rec.Keys.TaxID,
			BatchID:    batchID,
		})
		if err != nil {
			return "", err
		}
	}

	if id != "" {
		r.mu.Lock()
		r.contacts[key] = id
		r.mu.Unlock()
	}
	return id, nil
}

func (r *Resolver) findContact(ctx context.Context, rec *CanonicalRecord) (string, error) {
	queries := []ContactQuery{
		{Email: rec.Keys.Email},
		{TaxID: rec.Keys.TaxID},
		{Phone: phoneSuffix(rec.Phone)},
		{Name: rec.FullName()},
	}
	for _, q := range queries {
		if q == (ContactQuery{}) {
			continue
		}
		id, err := r.repo.FindContact(ctx, q)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// ResolveAssignee matches a free-text seller name against CRM users.
// First pass: case-insensitive substring containment either direction.
// Second pass: every word of 3+ characters in the shorter name appears in
// the longer one, so "Tiago Abdul" matches "Tiago de Mello Abdul Hak".
// Returns "" when nothing matches; an unassigned deal is not an error.
func (r *Resolver) ResolveAssignee(ctx context.Context, name string) (string, error) {
	name = NormalizeFullName(name)
	if name == "" {
		return "", nil
	}

	users, err := r.loadUsers(ctx)
	if err != nil {
		return "", err
	}

	for _, u := range users {
		candidate := NormalizeFullName(u.Name)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, name) || strings.Contains(name, candidate) {
			return u.ID, nil
		}
	}

	for _, u := range users {
		if wordsContained(name, NormalizeFullName(u.Name)) {
			return u.ID, nil
		}
	}
	return "", nil
}

func (r *Resolver) loadUsers(ctx context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveUser {
		return r.users, nil
	}
	users, err := r.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	r.users = users
	r.haveUser = true
	return users, nil
}

// wordsContained reports whether every significant word (3+ chars) of the
// shorter name appears as a word of the longer one. Short particles like
// "de" and "da" are ignored on both sides.
func wordsContained(a, b string) bool {
	short, long := a, b
	if len(strings.Fields(b)) < len(strings.Fields(a)) {
		short, long = b, a
	}

	longWords := map[string]struct{}{}
	for _, w := range strings.Fields(long) {
		longWords[w] = struct{}{}
	}

	matched := false
	for _, w := range strings.Fields(short) {
		if len(w) < 3 {
			continue
		}
		if _, ok := longWords[w]; !ok {
			return false
		}
		matched = true
	}
	return matched
}

// contactCacheKey builds the per-run cache key for a record's contact
// reference, preferring the strongest key present.
func contactCacheKey(rec *CanonicalRecord) string {
	switch {
	case rec.Keys.Email != "":
		return "email:" + rec.Keys.Email
	case rec.Keys.TaxID != "":
		return "taxid:" + rec.Keys.TaxID
	case rec.Phone != "":
		return "phone:" + phoneSuffix(rec.Phone)
	case rec.Keys.FullName != "":
		return "name:" + rec.Keys.FullName
	}
	return ""
}

func phoneSuffix(p string) string {
	if len(p) <= phoneSuffixLen {
		return p
	}
	return p[len(p)-phoneSuffixLen:]
}
