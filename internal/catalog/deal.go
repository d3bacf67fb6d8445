package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/wcrm/importd/internal/importer"
)

// errContactNotFound marks a deal row whose buyer could not be resolved or
// created. The row is skipped; the run continues.
var errContactNotFound = errors.New("contato não encontrado")

func init() {
	importer.Register(importer.Catalog{
		Kind:     "deal",
		Label:    "Negócios",
		Identity: "titulo",
		Fields: []importer.Field{
			{Key: "titulo", Label: "Título", Required: true, Kind: importer.FieldText,
				Aliases: []string{"title", "negocio", "negócio", "viagem", "pacote"}},
			{Key: "valor", Label: "Valor", Kind: importer.FieldNumber,
				Aliases: []string{"faturamento", "valor total", "preco", "preço", "total"}},
			{Key: "categoria", Label: "Categoria", Kind: importer.FieldText,
				Aliases: []string{"category", "tipo viagem", "produto"}},
			{Key: "nome_contato", Label: "Nome do Contato", Kind: importer.FieldName,
				Aliases: []string{"cliente", "comprador", "contato", "passageiro principal"}},
			{Key: "email_contato", Label: "E-mail do Contato", Kind: importer.FieldEmail,
				Aliases: []string{"e-mail", "email", "mail"}},
			{Key: "cpf", Label: "CPF", Kind: importer.FieldTaxID,
				Aliases: []string{"cnpj", "cpf/cnpj", "documento"}},
			{Key: "telefone", Label: "Telefone", Kind: importer.FieldPhone,
				Aliases: []string{"celular", "fone", "whatsapp"}},
			{Key: "data_viagem_inicio", Label: "Início da Viagem", Kind: importer.FieldDate,
				Aliases: []string{"data ida", "embarque", "check-in", "inicio"}},
			{Key: "data_viagem_fim", Label: "Fim da Viagem", Kind: importer.FieldDate,
				Aliases: []string{"data volta", "retorno", "check-out", "fim"}},
			{Key: "passageiros", Label: "Passageiros", Kind: importer.FieldList,
				Aliases: []string{"acompanhantes", "viajantes", "pax"}},
			{Key: "vendedor", Label: "Vendedor", Kind: importer.FieldText,
				Aliases: []string{"consultor", "responsavel", "responsável", "atendente"}},
			{Key: "moeda", Label: "Moeda", Kind: importer.FieldText, Default: "BRL",
				Aliases: []string{"currency", "cambio", "câmbio"}},
		},
		NewCommitter: func(deps importer.CommitterDeps) importer.EntityCommitter {
			return &dealCommitter{deps: deps}
		},
	})
}

// dealCommitter writes one deal row: resolve the buyer contact (creating
// it when the row carries a name), resolve the assignee, insert the deal,
// then best-effort passenger links and the financial item.
type dealCommitter struct {
	deps importer.CommitterDeps
}

func (d *dealCommitter) CommitRow(ctx context.Context, rec *importer.CanonicalRecord) (importer.CreatedRecord, []string, error) {
	contactID, err := d.deps.Resolve.ResolveContact(ctx, rec, d.deps.BatchID)
	if err != nil {
		return importer.CreatedRecord{}, nil, fmt.Errorf("resolving contact for %q: %w", rec.Str("titulo"), err)
	}
	if contactID == "" {
		return importer.CreatedRecord{}, nil, fmt.Errorf("%q: %w", rec.Str("titulo"), errContactNotFound)
	}

	var warnings []string

	ownerID, err := d.deps.Resolve.ResolveAssignee(ctx, rec.Str("vendedor"))
	if err != nil {
		// An unreachable user list downgrades to an unassigned deal
		// unless the store itself is gone.
		if errors.Is(err, importer.ErrRepositoryUnavailable) {
			return importer.CreatedRecord{}, nil, err
		}
		warnings = append(warnings, fmt.Sprintf("assignee lookup failed: %v", err))
		ownerID = ""
	}

	title := rec.Str("titulo")
	dealID, err := d.deps.Repo.InsertDeal(ctx, importer.DealFields{
		Title:       title,
		Value:       rec.Num("valor"),
		Category:    rec.Str("categoria"),
		Currency:    rec.Str("moeda"),
		ContactID:   contactID,
		OwnerID:     ownerID,
		TravelStart: rec.Date("data_viagem_inicio"),
		TravelEnd:   rec.Date("data_viagem_fim"),
		BatchID:     d.deps.BatchID,
	})
	if err != nil {
		return importer.CreatedRecord{}, nil, fmt.Errorf("inserting deal %q: %w", title, err)
	}

	for _, passenger := range rec.List("passageiros") {
		err := d.deps.Repo.InsertLink(ctx, importer.LinkFields{
			Kind:     "dealPassenger",
			ParentID: dealID,
			Fields:   map[string]string{"nome": passenger},
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("passenger %q not linked: %v", passenger, err))
		}
	}

	if value := rec.Num("valor"); value > 0 {
		err := d.deps.Repo.InsertLink(ctx, importer.LinkFields{
			Kind:     "dealFinancial",
			ParentID: dealID,
			Fields: map[string]string{
				"descricao": title,
				"valor":     fmt.Sprintf("%.2f", value),
				"moeda":     rec.Str("moeda"),
			},
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("financial item not saved: %v", err))
		}
	}

	return importer.CreatedRecord{
		ID:    dealID,
		Kind:  rec.Kind,
		Label: title,
		Line:  rec.Line,
	}, warnings, nil
}
