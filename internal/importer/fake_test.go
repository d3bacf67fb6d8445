package importer

// fake_test.go provides the in-memory Repository used across the engine
// tests. It serves existing keys from fixed slices, assigns sequential
// IDs, and can be flipped into an unavailable state to exercise the
// fatal-failure path.

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type fakeContact struct {
	ID    string
	Name  string
	Email string
	TaxID string
	Phone string
}

type fakeRepo struct {
	mu sync.Mutex

	taxIDs []string
	emails []string
	names  []string

	contacts []fakeContact
	users    []User

	insertedContacts []ContactFields
	insertedDeals    []DealFields
	links            []LinkFields

	nextID int

	// unavailable makes every call fail with ErrRepositoryUnavailable.
	unavailable bool

	// failContactAfter, when > 0, fails InsertContact once that many
	// inserts have succeeded.
	failContactAfter int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{}
}

func (f *fakeRepo) check() error {
	if f.unavailable {
		return fmt.Errorf("dial tcp: %w", ErrRepositoryUnavailable)
	}
	return nil
}

func (f *fakeRepo) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRepo) ExistingKeys(ctx context.Context, kind KeyKind, offset, pageSize int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}

	var all []string
	switch kind {
	case KeyTaxID:
		all = f.taxIDs
	case KeyEmail:
		all = f.emails
	case KeyNamePair:
		all = f.names
	}

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeRepo) FindContact(ctx context.Context, q ContactQuery) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}

	for _, c := range f.contacts {
		switch {
		case q.Email != "" && strings.EqualFold(c.Email, q.Email):
			return c.ID, nil
		case q.TaxID != "" && c.TaxID == q.TaxID:
			return c.ID, nil
		case q.Phone != "" && strings.HasSuffix(c.Phone, q.Phone):
			return c.ID, nil
		case q.Name != "" && strings.EqualFold(c.Name, q.Name):
			return c.ID, nil
		}
	}
	return "", nil
}

func (f *fakeRepo) CreateContact(ctx context.Context, fields ContactFields) (string, error) {
	return f.InsertContact(ctx, fields)
}

func (f *fakeRepo) ListUsers(ctx context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.users, nil
}

func (f *fakeRepo) InsertContact(ctx context.Context, fields ContactFields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}
	if f.failContactAfter > 0 && len(f.insertedContacts) >= f.failContactAfter {
		return "", fmt.Errorf("duplicate key value violates unique constraint")
	}

	id := f.id("contact")
	f.insertedContacts = append(f.insertedContacts, fields)
	f.contacts = append(f.contacts, fakeContact{
		ID:    id,
		Name:  strings.TrimSpace(fields.GivenName + " " + fields.FamilyName),
		Email: fields.Email,
		TaxID: fields.TaxID,
		Phone: fields.Phone,
	})
	return id, nil
}

func (f *fakeRepo) InsertDeal(ctx context.Context, fields DealFields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return "", err
	}
	f.insertedDeals = append(f.insertedDeals, fields)
	return f.id("deal"), nil
}

func (f *fakeRepo) InsertLink(ctx context.Context, l LinkFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	f.links = append(f.links, l)
	return nil
}

// testContactCatalog mirrors the shape of the production contact catalog
// with just enough fields for pipeline tests.
func testContactCatalog() Catalog {
	return Catalog{
		Kind:     "contact",
		Label:    "Contatos",
		Identity: "nome",
		Dedupe:   true,
		Fields: []Field{
			{Key: "nome", Label: "Nome", Required: true, Kind: FieldName, Aliases: []string{"nome completo", "cliente"}},
			{Key: "sobrenome", Label: "Sobrenome", Kind: FieldName},
			{Key: "email", Label: "Email", Kind: FieldEmail, Aliases: []string{"e-mail"}},
			{Key: "telefone", Label: "Telefone", Kind: FieldPhone, Aliases: []string{"celular", "fone"}},
			{Key: "cpf", Label: "CPF", Kind: FieldTaxID, Aliases: []string{"cnpj", "documento"}},
			{Key: "data_nascimento", Label: "Data de Nascimento", Kind: FieldDate, Aliases: []string{"nascimento"}},
			{Key: "tipo_pessoa", Label: "Tipo de Pessoa", Kind: FieldText, Default: "adulto"},
			{Key: "tags", Label: "Tags", Kind: FieldList, Aliases: []string{"tag"}},
		},
	}
}

func testDealCatalog() Catalog {
	return Catalog{
		Kind:     "deal",
		Label:    "Negócios",
		Identity: "titulo",
		Fields: []Field{
			{Key: "titulo", Label: "Título", Required: true, Kind: FieldText, Aliases: []string{"pacote", "negócio"}},
			{Key: "valor", Label: "Valor", Kind: FieldNumber, Aliases: []string{"faturamento", "valor total"}},
			{Key: "nome_contato", Label: "Nome do Contato", Kind: FieldName},
			{Key: "email_contato", Label: "Email do Contato", Kind: FieldEmail},
			{Key: "vendedor", Label: "Vendedor", Kind: FieldText, Aliases: []string{"consultor"}},
			{Key: "moeda", Label: "Moeda", Kind: FieldText, Default: "BRL"},
		},
	}
}

func strCell(s string) Cell { return Cell{Kind: CellString, Str: s} }

func numCell(n float64, s string) Cell { return Cell{Kind: CellNumber, Num: n, Str: s} }

// record builds a minimal canonical contact record for dedupe and commit
// tests.
func record(line int, name, email, taxID string) *CanonicalRecord {
	given, family := SplitName(name)
	rec := &CanonicalRecord{
		Line:       line,
		Kind:       "contact",
		GivenName:  given,
		FamilyName: family,
		Fields:     map[string]Value{},
	}
	if name != "" {
		rec.Keys.FullName = NormalizeFullName(name)
	}
	if email != "" {
		rec.Keys.Email = email
	}
	if taxID != "" {
		rec.Keys.TaxID = taxID
	}
	return rec
}
