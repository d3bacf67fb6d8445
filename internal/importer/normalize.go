package importer

// normalize.go converts raw cells into typed canonical values.
//
// The conversions are tuned for Brazilian spreadsheet exports: decimal
// commas after thousands dots ("64.918,00"), DD/MM/YYYY dates, CPF/CNPJ
// tax IDs that lost a leading zero to Excel's number formatting. None of
// the parsers ever fail a row on their own; bad input degrades to a zero
// number, a null date, or an absent match key.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// serialEpoch is the spreadsheet day-serial epoch (1899-12-30; Excel's
// day 1 is 1900-01-01 and its phantom leap day shifts the base by two).
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Plausible day-serial range: 1905 through the spreadsheet max (9999-12-31).
const (
	minDateSerial = 2000
	maxDateSerial = 2958465
)

// minPhoneDigits is the minimum digit count for a phone to be usable as a
// match key.
const minPhoneDigits = 8

var (
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigitRegex = regexp.MustCompile(`\D`)
	dmyDateRegex  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	isoDateRegex  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
)

// ParseLocalizedNumber parses a currency/number cell. A leading currency
// marker is stripped; when both "," and "." are present, whichever comes
// last is the decimal separator. A lone "," is always decimal. Unparseable
// or empty input yields 0, never an error.
func ParseLocalizedNumber(c Cell) float64 {
	if c.Kind == CellNumber {
		return c.Num
	}
	if c.Kind == CellEmpty {
		return 0
	}

	s := strings.TrimSpace(c.Str)
	for _, marker := range []string{"R$", "US$", "$", "€", "£"} {
		if strings.HasPrefix(s, marker) {
			s = strings.TrimSpace(strings.TrimPrefix(s, marker))
			break
		}
	}
	if s == "" {
		return 0
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")

	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			// "64.918,00": dots are thousands, comma is decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// "64,918.00": commas are thousands.
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		// "5747,44": decimal comma.
		s = strings.Replace(s, ",", ".", 1)
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseDate converts a cell to an ISO YYYY-MM-DD date string.
// Accepts spreadsheet day serials, DD/MM/YYYY, DD-MM-YYYY, and anything
// already starting with an ISO date. Unparseable input yields "" so a bad
// date never drops the row.
func ParseDate(c Cell) string {
	switch c.Kind {
	case CellEmpty:
		return ""
	case CellNumber:
		return serialToDate(c.Num)
	}

	s := strings.TrimSpace(c.Str)
	if s == "" {
		return ""
	}

	if m := isoDateRegex.FindStringSubmatch(s); m != nil {
		if validYMD(m[1], m[2], m[3]) {
			return m[1] + "-" + m[2] + "-" + m[3]
		}
		return ""
	}

	if m := dmyDateRegex.FindStringSubmatch(s); m != nil {
		day, month, year := m[1], m[2], m[3]
		if len(day) == 1 {
			day = "0" + day
		}
		if len(month) == 1 {
			month = "0" + month
		}
		if validYMD(year, month, day) {
			return year + "-" + month + "-" + day
		}
		return ""
	}

	// CSV files carry serials as digit strings.
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return serialToDate(n)
	}

	return ""
}

func serialToDate(n float64) string {
	serial := int(n)
	if serial < minDateSerial || serial > maxDateSerial {
		return ""
	}
	return serialEpoch.AddDate(0, 0, serial).Format("2006-01-02")
}

func validYMD(y, m, d string) bool {
	_, err := time.Parse("2006-01-02", y+"-"+m+"-"+d)
	return err == nil
}

// NormalizeTaxID strips non-digits from a CPF/CNPJ and repairs the single
// leading zero that spreadsheets strip from numeric cells (10→11 and
// 13→14 digits). The second return is false unless the result is exactly
// 11 or 14 digits; invalid values are treated as absent for matching.
func NormalizeTaxID(s string) (string, bool) {
	digits := nonDigitRegex.ReplaceAllString(s, "")
	if len(digits) == 10 || len(digits) == 13 {
		digits = "0" + digits
	}
	if len(digits) == 11 || len(digits) == 14 {
		return digits, true
	}
	return "", false
}

// NormalizePhone strips non-digits. Fewer than 8 digits is unusable for
// matching and reported as absent.
func NormalizePhone(s string) (string, bool) {
	digits := nonDigitRegex.ReplaceAllString(s, "")
	if len(digits) < minPhoneDigits {
		return "", false
	}
	return digits, true
}

// NormalizeEmail lower-cases and trims a basic local@domain.tld address.
// Anything else is absent for matching.
func NormalizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !emailRegex.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// SplitName splits a full name on whitespace: first token is the given
// name, the joined rest is the family name ("" for single-token names).
func SplitName(s string) (given, family string) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// SplitList splits a comma-separated cell into trimmed, non-empty tokens.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// NormalizeFullName canonicalizes a name for matching: lowercased, single
// spaces.
func NormalizeFullName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeResult is the Normalizer's output: one CanonicalRecord per kept
// row plus the count of rows rejected for missing identity data.
type NormalizeResult struct {
	Records  []*CanonicalRecord
	Rejected int
}

// Normalize converts decoded rows into canonical records using the
// confirmed mapping. Rows whose identity field yields no usable value are
// counted as rejected and excluded from all further stages.
//
// The onRow callback, when non-nil, is invoked every few hundred rows so
// the host can refresh status between large sub-phases.
func Normalize(file *DecodedFile, mapping FieldMapping, cat Catalog, onRow func(done, total int)) NormalizeResult {
	idx := headerIndex(file.Headers)

	cellFor := func(row RawRow, key string) Cell {
		col := mapping[key]
		if col == "" {
			return Cell{}
		}
		pos, ok := idx[col]
		if !ok {
			return Cell{}
		}
		return file.Cell(row, pos)
	}

	var result NormalizeResult
	for i, row := range file.Rows {
		rec := &CanonicalRecord{
			Line:   i + 2, // 1-indexed, after header
			Kind:   cat.Kind,
			Fields: make(map[string]Value, len(cat.Fields)),
		}

		for _, field := range cat.Fields {
			cell := cellFor(row, field.Key)
			raw := strings.TrimSpace(cell.String())
			if raw == "" && field.Default != "" {
				raw = field.Default
				cell = Cell{Kind: CellString, Str: raw}
			}

			switch field.Kind {
			case FieldNumber:
				rec.Fields[field.Key] = Value{Kind: ValueNumber, Num: ParseLocalizedNumber(cell), Str: raw}
			case FieldDate:
				if d := ParseDate(cell); d != "" {
					rec.Fields[field.Key] = Value{Kind: ValueDate, Date: d, Str: raw}
				}
			case FieldTaxID:
				rec.RawTaxID = raw
				if id, ok := NormalizeTaxID(raw); ok {
					rec.Keys.TaxID = id
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: id}
				} else if raw != "" {
					// Keep the raw value for display even when unusable
					// for matching.
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: raw}
				}
			case FieldPhone:
				if p, ok := NormalizePhone(raw); ok {
					rec.Phone = p
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: p}
				}
			case FieldEmail:
				if e, ok := NormalizeEmail(raw); ok {
					rec.Keys.Email = e
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: e}
				}
			case FieldName:
				if raw != "" {
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: raw}
				}
			case FieldList:
				if items := SplitList(raw); len(items) > 0 {
					rec.Fields[field.Key] = Value{Kind: ValueList, List: items, Str: raw}
				}
			default:
				if raw != "" {
					rec.Fields[field.Key] = Value{Kind: ValueString, Str: raw}
				}
			}
		}

		fillNames(rec, cat)

		identity, _ := cat.Field(cat.Identity)
		missing := rec.Str(cat.Identity) == ""
		if identity.Kind == FieldName {
			missing = rec.GivenName == ""
		}
		if missing {
			rec.Verdict = Verdict{Kind: VerdictRejected, Reason: ReasonNoName}
			result.Rejected++
			continue
		}

		result.Records = append(result.Records, rec)

		if onRow != nil && (i+1)%256 == 0 {
			onRow(i+1, len(file.Rows))
		}
	}

	if onRow != nil {
		onRow(len(file.Rows), len(file.Rows))
	}

	return result
}

// fillNames derives the record's given/family name and full-name match key
// from the catalog's name fields. A separate surname column wins over
// splitting; otherwise the name column is split on whitespace.
func fillNames(rec *CanonicalRecord, cat Catalog) {
	nameKey, surnameKey := cat.nameKeys()
	if nameKey == "" {
		return
	}

	name := rec.Str(nameKey)
	if name == "" {
		return
	}

	if surnameKey != "" {
		if surname := rec.Str(surnameKey); surname != "" {
			rec.GivenName = strings.TrimSpace(name)
			rec.FamilyName = strings.TrimSpace(surname)
			rec.Keys.FullName = NormalizeFullName(name + " " + surname)
			return
		}
	}

	given, family := SplitName(name)
	rec.GivenName = given
	rec.FamilyName = family
	rec.Keys.FullName = NormalizeFullName(name)
}

// nameKeys returns the catalog's name and surname field keys, identified
// by field kind and the conventional "sobrenome" key.
func (c Catalog) nameKeys() (nameKey, surnameKey string) {
	for _, f := range c.Fields {
		if f.Kind != FieldName {
			continue
		}
		if f.Key == "sobrenome" {
			surnameKey = f.Key
		} else if nameKey == "" {
			nameKey = f.Key
		}
	}
	return nameKey, surnameKey
}
