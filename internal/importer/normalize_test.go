package importer

import (
	"reflect"
	"testing"
)

// ============================================================================
// Localized Number Tests
// ============================================================================

func TestParseLocalizedNumber(t *testing.T) {
	tests := []struct {
		name  string
		input Cell
		want  float64
	}{
		{"brazilian thousands and decimal", strCell("64.918,00"), 64918.00},
		{"us thousands and decimal", strCell("64,918.00"), 64918.00},
		{"decimal comma only", strCell("5747,44"), 5747.44},
		{"decimal dot only", strCell("123.45"), 123.45},
		{"plain integer", strCell("1500"), 1500},
		{"currency prefix brl", strCell("R$ 1.234,56"), 1234.56},
		{"currency prefix usd", strCell("$ 99.90"), 99.90},
		{"multiple thousands groups", strCell("1.234.567,89"), 1234567.89},
		{"number cell passthrough", numCell(42.5, "42.5"), 42.5},
		{"empty cell", Cell{}, 0},
		{"blank string", strCell("   "), 0},
		{"garbage", strCell("abc"), 0},
		{"currency only", strCell("R$"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLocalizedNumber(tt.input); got != tt.want {
				t.Errorf("ParseLocalizedNumber(%q) = %v, want %v", tt.input.Str, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Date Parsing Tests
// ============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input Cell
		want  string
	}{
		{"day serial", numCell(45329, "45329"), "2024-02-07"},
		{"day serial new year", numCell(45292, "45292"), "2024-01-01"},
		{"serial as digit string", strCell("45329"), "2024-02-07"},
		{"dmy slashes", strCell("07/02/2024"), "2024-02-07"},
		{"dmy single digits", strCell("7/2/2024"), "2024-02-07"},
		{"dmy dashes", strCell("07-02-2024"), "2024-02-07"},
		{"iso", strCell("2024-02-07"), "2024-02-07"},
		{"iso with time suffix", strCell("2024-02-07 15:04:05"), "2024-02-07"},
		{"invalid calendar date", strCell("31/02/2024"), ""},
		{"serial below range", numCell(100, "100"), ""},
		{"serial above range", numCell(3000000, "3000000"), ""},
		{"free text", strCell("amanhã"), ""},
		{"empty", Cell{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDate(tt.input); got != tt.want {
				t.Errorf("ParseDate(%q) = %q, want %q", tt.input.Str, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Match Key Normalization Tests
// ============================================================================

func TestNormalizeTaxID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"formatted cpf", "052.045.209-70", "05204520970", true},
		{"cpf missing leading zero", "5204520970", "05204520970", true},
		{"formatted cnpj", "12.345.678/0001-95", "12345678000195", true},
		{"cnpj missing leading zero", "2345678000195", "02345678000195", true},
		{"too short", "123456789", "", false},
		{"too long", "123456789012345", "", false},
		{"empty", "", "", false},
		{"letters only", "abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeTaxID(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeTaxID(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"(11) 98765-4321", "11987654321", true},
		{"+55 11 98765-4321", "5511987654321", true},
		{"87654321", "87654321", true},
		{"1234567", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizePhone(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizePhone(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{" Maria@Example.COM ", "maria@example.com", true},
		{"maria.silva+viagem@example.com.br", "maria.silva+viagem@example.com.br", true},
		{"not-an-email", "", false},
		{"a@b", "", false},
		{"a b@example.com", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeEmail(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeEmail(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		input      string
		wantGiven  string
		wantFamily string
	}{
		{"Maria Silva", "Maria", "Silva"},
		{"Maria de Souza Silva", "Maria", "de Souza Silva"},
		{"Maria", "Maria", ""},
		{"  Maria   Silva  ", "Maria", "Silva"},
		{"", "", ""},
	}

	for _, tt := range tests {
		given, family := SplitName(tt.input)
		if given != tt.wantGiven || family != tt.wantFamily {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tt.input, given, family, tt.wantGiven, tt.wantFamily)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"vip, lua de mel , grupo", []string{"vip", "lua de mel", "grupo"}},
		{"vip", []string{"vip"}},
		{" , , ", nil},
		{"", nil},
	}

	for _, tt := range tests {
		if got := SplitList(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeFullName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Maria  Silva", "maria silva"},
		{"  MARIA SILVA  ", "maria silva"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeFullName(tt.input); got != tt.want {
			t.Errorf("NormalizeFullName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ============================================================================
// Normalizer Tests
// ============================================================================

func contactFile() *DecodedFile {
	return &DecodedFile{
		Headers: []string{"Nome", "Sobrenome", "Email", "CPF", "Nascimento", "Tags"},
		Rows: []RawRow{
			{strCell("Maria"), strCell("Silva"), strCell("MARIA@Example.com"), strCell("052.045.209-70"), strCell("07/02/1990"), strCell("vip, grupo")},
			{strCell("José Carlos Pereira"), Cell{}, Cell{}, strCell("123"), Cell{}, Cell{}},
			{Cell{}, strCell("Sem Nome"), strCell("orfao@example.com"), Cell{}, Cell{}, Cell{}},
		},
	}
}

func contactMapping() FieldMapping {
	return FieldMapping{
		"nome":            "Nome",
		"sobrenome":       "Sobrenome",
		"email":           "Email",
		"cpf":             "CPF",
		"data_nascimento": "Nascimento",
		"tags":            "Tags",
	}
}

func TestNormalize_Contacts(t *testing.T) {
	result := Normalize(contactFile(), contactMapping(), testContactCatalog(), nil)

	if result.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", result.Rejected)
	}
	if len(result.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(result.Records))
	}

	maria := result.Records[0]
	if maria.Line != 2 {
		t.Errorf("Line = %d, want 2", maria.Line)
	}
	if maria.GivenName != "Maria" || maria.FamilyName != "Silva" {
		t.Errorf("name = (%q, %q), want (Maria, Silva)", maria.GivenName, maria.FamilyName)
	}
	if maria.Keys.FullName != "maria silva" {
		t.Errorf("FullName key = %q, want %q", maria.Keys.FullName, "maria silva")
	}
	if maria.Keys.Email != "maria@example.com" {
		t.Errorf("Email key = %q, want %q", maria.Keys.Email, "maria@example.com")
	}
	if maria.Keys.TaxID != "05204520970" {
		t.Errorf("TaxID key = %q, want %q", maria.Keys.TaxID, "05204520970")
	}
	if got := maria.Date("data_nascimento"); got != "1990-02-07" {
		t.Errorf("data_nascimento = %q, want %q", got, "1990-02-07")
	}
	if got := maria.List("tags"); !reflect.DeepEqual(got, []string{"vip", "grupo"}) {
		t.Errorf("tags = %v, want [vip grupo]", got)
	}
	if got := maria.Str("tipo_pessoa"); got != "adulto" {
		t.Errorf("tipo_pessoa default = %q, want %q", got, "adulto")
	}

	jose := result.Records[1]
	if jose.GivenName != "José" || jose.FamilyName != "Carlos Pereira" {
		t.Errorf("split name = (%q, %q), want (José, Carlos Pereira)", jose.GivenName, jose.FamilyName)
	}
	if jose.Keys.TaxID != "" {
		t.Errorf("invalid tax ID produced key %q", jose.Keys.TaxID)
	}
	if jose.RawTaxID != "123" {
		t.Errorf("RawTaxID = %q, want %q", jose.RawTaxID, "123")
	}
	if jose.Keys.HasIdentifier() {
		t.Error("record without email or valid tax ID should have no identifier")
	}
}

func TestNormalize_SurnameColumnWinsOverSplitting(t *testing.T) {
	file := &DecodedFile{
		Headers: []string{"Nome", "Sobrenome"},
		Rows: []RawRow{
			{strCell("Ana Paula"), strCell("Costa")},
		},
	}
	mapping := FieldMapping{"nome": "Nome", "sobrenome": "Sobrenome"}

	result := Normalize(file, mapping, testContactCatalog(), nil)
	if len(result.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(result.Records))
	}

	rec := result.Records[0]
	if rec.GivenName != "Ana Paula" || rec.FamilyName != "Costa" {
		t.Errorf("name = (%q, %q), want (Ana Paula, Costa)", rec.GivenName, rec.FamilyName)
	}
	if rec.Keys.FullName != "ana paula costa" {
		t.Errorf("FullName key = %q, want %q", rec.Keys.FullName, "ana paula costa")
	}
}

func TestNormalize_Deals(t *testing.T) {
	file := &DecodedFile{
		Headers: []string{"Título", "Faturamento", "Nome do Contato"},
		Rows: []RawRow{
			{strCell("Pacote Lisboa"), strCell("R$ 64.918,00"), strCell("Maria Silva")},
			{Cell{}, strCell("100,00"), strCell("Pedro")},
		},
	}
	mapping := FieldMapping{"titulo": "Título", "valor": "Faturamento", "nome_contato": "Nome do Contato"}

	result := Normalize(file, mapping, testDealCatalog(), nil)

	if result.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", result.Rejected)
	}
	if len(result.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(result.Records))
	}

	deal := result.Records[0]
	if got := deal.Str("titulo"); got != "Pacote Lisboa" {
		t.Errorf("titulo = %q, want %q", got, "Pacote Lisboa")
	}
	if got := deal.Num("valor"); got != 64918.00 {
		t.Errorf("valor = %v, want 64918.00", got)
	}
	if got := deal.Str("moeda"); got != "BRL" {
		t.Errorf("moeda default = %q, want %q", got, "BRL")
	}
	if deal.GivenName != "Maria" || deal.FamilyName != "Silva" {
		t.Errorf("contact name = (%q, %q), want (Maria, Silva)", deal.GivenName, deal.FamilyName)
	}
}

func TestNormalize_UnmappedFieldAbsent(t *testing.T) {
	file := &DecodedFile{
		Headers: []string{"Nome"},
		Rows:    []RawRow{{strCell("Maria")}},
	}

	result := Normalize(file, FieldMapping{"nome": "Nome"}, testContactCatalog(), nil)
	rec := result.Records[0]

	if rec.Keys.Email != "" {
		t.Errorf("unmapped email produced key %q", rec.Keys.Email)
	}
	if _, ok := rec.Fields["email"]; ok {
		t.Error("unmapped email field should be absent")
	}
}

func TestNormalize_ReportsProgress(t *testing.T) {
	file := &DecodedFile{Headers: []string{"Nome"}}
	for i := 0; i < 300; i++ {
		file.Rows = append(file.Rows, RawRow{strCell("Maria")})
	}

	var calls [][2]int
	Normalize(file, FieldMapping{"nome": "Nome"}, testContactCatalog(), func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})

	if len(calls) != 2 {
		t.Fatalf("progress calls = %d, want 2", len(calls))
	}
	if calls[0] != [2]int{256, 300} {
		t.Errorf("first call = %v, want [256 300]", calls[0])
	}
	if calls[1] != [2]int{300, 300} {
		t.Errorf("final call = %v, want [300 300]", calls[1])
	}
}
