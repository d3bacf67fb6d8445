// Package repository implements the import engine's storage interface on
// Postgres. Each call is its own statement; the engine never asks for a
// cross-row transaction, so a failed row leaves earlier rows committed.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wcrm/importd/internal/importer"
)

// Origin and status stamped on every imported deal so the CRM can show a
// recently-imported view and exclude these rows from pipeline funnels.
const (
	importOrigin     = "importacao_excel"
	importDealStatus = "ganho"
)

// Postgres implements importer.Repository over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a Postgres repository on an existing pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// classify wraps connectivity failures with ErrRepositoryUnavailable so
// the committer halts the run instead of failing every remaining row.
// Postgres class 08 is connection exceptions, class 57 is shutdown.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", importer.ErrRepositoryUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return fmt.Errorf("%w: %v", importer.ErrRepositoryUnavailable, err)
		}
	}
	return err
}

// ExistingKeys returns one page of duplicate-detection keys. A page
// shorter than pageSize signals exhaustion to the caller.
func (p *Postgres) ExistingKeys(ctx context.Context, kind importer.KeyKind, offset, pageSize int) ([]string, error) {
	var query string
	switch kind {
	case importer.KeyTaxID:
		query = `SELECT cpf FROM contatos
			WHERE cpf IS NOT NULL AND cpf <> ''
			ORDER BY id LIMIT $1 OFFSET $2`
	case importer.KeyEmail:
		query = `SELECT email FROM contatos
			WHERE email IS NOT NULL AND email <> ''
			ORDER BY id LIMIT $1 OFFSET $2`
	case importer.KeyNamePair:
		query = `SELECT nome || ' ' || sobrenome FROM contatos
			WHERE sobrenome IS NOT NULL AND sobrenome <> ''
			ORDER BY id LIMIT $1 OFFSET $2`
	default:
		return nil, fmt.Errorf("unknown key kind: %s", kind)
	}

	rows, err := p.pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	keys := make([]string, 0, pageSize)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, classify(err)
		}
		keys = append(keys, k)
	}
	return keys, classify(rows.Err())
}

// FindContact returns the ID of the first contact matching the query's
// single populated criterion, or "" when none matches.
func (p *Postgres) FindContact(ctx context.Context, q importer.ContactQuery) (string, error) {
	var (
		query string
		arg   any
	)
	switch {
	case q.Email != "":
		query = `SELECT id::text FROM contatos WHERE lower(email) = lower($1) LIMIT 1`
		arg = q.Email
	case q.TaxID != "":
		query = `SELECT id::text FROM contatos WHERE regexp_replace(cpf, '\D', '', 'g') = $1 LIMIT 1`
		arg = q.TaxID
	case q.Phone != "":
		query = `SELECT id::text FROM contatos WHERE regexp_replace(telefone, '\D', '', 'g') LIKE '%' || $1 LIMIT 1`
		arg = q.Phone
	case q.Name != "":
		query = `SELECT id::text FROM contatos
			WHERE lower(trim(nome || ' ' || COALESCE(sobrenome, ''))) = lower($1) LIMIT 1`
		arg = q.Name
	default:
		return "", nil
	}

	var id string
	err := p.pool.QueryRow(ctx, query, arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// CreateContact inserts a contact discovered while resolving a deal row.
func (p *Postgres) CreateContact(ctx context.Context, f importer.ContactFields) (string, error) {
	return p.insertContact(ctx, f)
}

// InsertContact is the primary insert for a contact import row.
func (p *Postgres) InsertContact(ctx context.Context, f importer.ContactFields) (string, error) {
	return p.insertContact(ctx, f)
}

func (p *Postgres) insertContact(ctx context.Context, f importer.ContactFields) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO contatos
			(nome, sobrenome, email, telefone, cpf, data_nascimento,
			 passaporte, tipo_pessoa, tags, observacoes, origem, import_batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id::text`,
		f.GivenName, nullable(f.FamilyName), nullable(f.Email), nullable(f.Phone),
		nullable(f.TaxID), nullable(f.BirthDate), nullable(f.Passport),
		nullable(f.PersonType), f.Tags, nullable(f.Notes),
		importOrigin, f.BatchID,
	).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// ListUsers returns the CRM user accounts for assignee matching.
func (p *Postgres) ListUsers(ctx context.Context) ([]importer.User, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, COALESCE(nome, ''), COALESCE(email, '')
		FROM profiles WHERE ativo`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var users []importer.User
	for rows.Next() {
		var u importer.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, classify(err)
		}
		users = append(users, u)
	}
	return users, classify(rows.Err())
}

// InsertDeal is the primary insert for a deal import row.
func (p *Postgres) InsertDeal(ctx context.Context, f importer.DealFields) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO cards
			(titulo, valor, categoria, moeda, contato_id, responsavel_id,
			 data_viagem_inicio, data_viagem_fim, origem, status, import_batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text`,
		f.Title, f.Value, nullable(f.Category), nullable(f.Currency),
		f.ContactID, nullable(f.OwnerID),
		nullable(f.TravelStart), nullable(f.TravelEnd),
		importOrigin, importDealStatus, f.BatchID,
	).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// InsertLink performs a best-effort secondary insert. The caller records
// failures as row warnings; classify still upgrades outages to fatal.
func (p *Postgres) InsertLink(ctx context.Context, l importer.LinkFields) error {
	var err error
	switch l.Kind {
	case "dealPassenger":
		_, err = p.pool.Exec(ctx, `
			INSERT INTO cards_pessoas (card_id, nome) VALUES ($1, $2)`,
			l.ParentID, l.Fields["nome"])
	case "contactMethod":
		_, err = p.pool.Exec(ctx, `
			INSERT INTO contatos_meios (contato_id, tipo, valor) VALUES ($1, $2, $3)`,
			l.ParentID, l.Fields["tipo"], l.Fields["valor"])
	case "dealFinancial":
		_, err = p.pool.Exec(ctx, `
			INSERT INTO cards_financeiro (card_id, descricao, valor, moeda)
			VALUES ($1, $2, $3::numeric, $4)`,
			l.ParentID, l.Fields["descricao"], l.Fields["valor"], l.Fields["moeda"])
	default:
		return fmt.Errorf("unknown link kind: %s", l.Kind)
	}
	return classify(err)
}

// nullable maps "" to SQL NULL so empty optionals do not violate
// check constraints on the CRM tables.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
