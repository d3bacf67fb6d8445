package importer

import (
	"context"
	"errors"
)

// KeyKind selects which existing-key set a paginated query returns.
type KeyKind string

const (
	KeyTaxID    KeyKind = "taxId"
	KeyEmail    KeyKind = "email"
	KeyNamePair KeyKind = "namePair"
)

// ErrRepositoryUnavailable is returned (wrapped) by repositories when the
// backing store is unreachable. The committer treats it as fatal: the run
// halts and reports partial results instead of burning through the batch.
var ErrRepositoryUnavailable = errors.New("repository unavailable")

// ContactQuery carries the descriptive data used to find an existing
// contact. Empty fields are skipped.
type ContactQuery struct {
	Email string
	TaxID string
	Phone string // normalized digits; matched by last-8-digit suffix
	Name  string // matched case-insensitively, exact
}

// ContactFields holds the data available when creating a contact.
type ContactFields struct {
	GivenName  string
	FamilyName string
	Email      string
	Phone      string
	TaxID      string
	BirthDate  string // ISO date or ""
	Passport   string
	PersonType string
	Tags       []string
	Notes      string
	BatchID    string
}

// DealFields holds the data for a primary deal insert.
type DealFields struct {
	Title       string
	Value       float64
	Category    string
	Currency    string
	ContactID   string
	OwnerID     string
	TravelStart string // ISO date or ""
	TravelEnd   string // ISO date or ""
	BatchID     string
}

// User is a CRM user account, used for assignee resolution.
type User struct {
	ID    string
	Name  string
	Email string
}

// LinkFields is a secondary row attached to a committed record: a
// deal↔passenger link, a contact-method row, a financial item row.
type LinkFields struct {
	Kind     string // "dealPassenger" | "contactMethod" | "dealFinancial"
	ParentID string
	Fields   map[string]string
}

// Repository is the engine's only external interface. Implementations
// provide their own atomicity per call; the engine never wraps calls in a
// cross-row transaction.
type Repository interface {
	// ExistingKeys returns one page of existing keys of the given kind.
	// A page shorter than pageSize signals exhaustion. Name pairs are
	// returned pre-joined as "nome sobrenome" and only include records
	// with a non-empty surname.
	ExistingKeys(ctx context.Context, kind KeyKind, offset, pageSize int) ([]string, error)

	// FindContact returns the ID of an existing contact matching the
	// query, or "" when none matches.
	FindContact(ctx context.Context, q ContactQuery) (string, error)

	// CreateContact inserts a new contact and returns its ID.
	CreateContact(ctx context.Context, f ContactFields) (string, error)

	// ListUsers returns all active user accounts for assignee matching.
	ListUsers(ctx context.Context) ([]User, error)

	// InsertContact is the primary insert for a contact import row.
	InsertContact(ctx context.Context, f ContactFields) (string, error)

	// InsertDeal is the primary insert for a deal import row.
	InsertDeal(ctx context.Context, f DealFields) (string, error)

	// InsertLink performs a best-effort secondary insert. Failures are
	// logged per row but never roll back the primary insert.
	InsertLink(ctx context.Context, l LinkFields) error
}
