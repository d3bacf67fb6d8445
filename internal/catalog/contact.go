// Package catalog registers the importable entity kinds: their canonical
// fields, header aliases from the spreadsheet templates in circulation,
// and the per-row writers used during commit. Importing this package for
// side effects makes both kinds available in the registry.
package catalog

import (
	"context"
	"fmt"

	"github.com/wcrm/importd/internal/importer"
)

func init() {
	importer.Register(importer.Catalog{
		Kind:     "contact",
		Label:    "Contatos",
		Identity: "nome",
		Dedupe:   true,
		Fields: []importer.Field{
			{Key: "nome", Label: "Nome", Required: true, Kind: importer.FieldName,
				Aliases: []string{"name", "primeiro nome", "nome completo", "cliente"}},
			{Key: "sobrenome", Label: "Sobrenome", Kind: importer.FieldName,
				Aliases: []string{"last name", "surname", "apelido"}},
			{Key: "email", Label: "E-mail", Kind: importer.FieldEmail,
				Aliases: []string{"e-mail", "mail", "correio"}},
			{Key: "telefone", Label: "Telefone", Kind: importer.FieldPhone,
				Aliases: []string{"celular", "fone", "whatsapp", "phone"}},
			{Key: "cpf", Label: "CPF", Kind: importer.FieldTaxID,
				Aliases: []string{"cnpj", "cpf/cnpj", "documento"}},
			{Key: "data_nascimento", Label: "Data de Nascimento", Kind: importer.FieldDate,
				Aliases: []string{"nascimento", "aniversario", "aniversário", "birthday"}},
			{Key: "passaporte", Label: "Passaporte", Kind: importer.FieldText,
				Aliases: []string{"passport", "numero passaporte"}},
			{Key: "tipo_pessoa", Label: "Tipo de Pessoa", Kind: importer.FieldText, Default: "adulto",
				Aliases: []string{"tipo", "categoria pessoa"}},
			{Key: "tags", Label: "Tags", Kind: importer.FieldList,
				Aliases: []string{"etiquetas", "marcadores", "grupos"}},
			{Key: "observacoes", Label: "Observações", Kind: importer.FieldText,
				Aliases: []string{"observacao", "observação", "notas", "notes", "comentarios"}},
		},
		NewCommitter: func(deps importer.CommitterDeps) importer.EntityCommitter {
			return &contactCommitter{deps: deps}
		},
	})
}

// contactCommitter writes one contact row: the primary contatos insert,
// then best-effort contact-method rows for the email and phone.
type contactCommitter struct {
	deps importer.CommitterDeps
}

func (c *contactCommitter) CommitRow(ctx context.Context, rec *importer.CanonicalRecord) (importer.CreatedRecord, []string, error) {
	fields := importer.ContactFields{
		GivenName:  rec.GivenName,
		FamilyName: rec.FamilyName,
		Email:      rec.Keys.Email,
		Phone:      rec.Phone,
		TaxID:      rec.Keys.TaxID,
		BirthDate:  rec.Date("data_nascimento"),
		Passport:   rec.Str("passaporte"),
		PersonType: rec.Str("tipo_pessoa"),
		Tags:       rec.List("tags"),
		Notes:      rec.Str("observacoes"),
		BatchID:    c.deps.BatchID,
	}

	id, err := c.deps.Repo.InsertContact(ctx, fields)
	if err != nil {
		return importer.CreatedRecord{}, nil, fmt.Errorf("inserting contact %q: %w", rec.FullName(), err)
	}

	var warnings []string
	for _, m := range []struct{ kind, value string }{
		{"email", fields.Email},
		{"telefone", fields.Phone},
	} {
		if m.value == "" {
			continue
		}
		err := c.deps.Repo.InsertLink(ctx, importer.LinkFields{
			Kind:     "contactMethod",
			ParentID: id,
			Fields:   map[string]string{"tipo": m.kind, "valor": m.value},
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("contact method %s not saved: %v", m.kind, err))
		}
	}

	return importer.CreatedRecord{
		ID:    id,
		Kind:  rec.Kind,
		Label: rec.FullName(),
		Line:  rec.Line,
	}, warnings, nil
}
