package dvf

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Column names of the published file, normalised by normalizeColumn.
const (
	colIdentifiantDocument  = "identifiant de document"
	colReferenceDocument    = "reference document"
	colNoDisposition        = "no disposition"
	colDateMutation         = "date mutation"
	colNatureMutation       = "nature mutation"
	colValeurFonciere       = "valeur fonciere"
	colNoVoie               = "no voie"
	colBTQ                  = "b/t/q"
	colTypeDeVoie           = "type de voie"
	colCodeVoie             = "code voie"
	colVoie                 = "voie"
	colCodePostal           = "code postal"
	colCommune              = "commune"
	colCodeDepartement      = "code departement"
	colCodeCommune          = "code commune"
	colPrefixeDeSection     = "prefixe de section"
	colSection              = "section"
	colNoPlan               = "no plan"
	colNoVolume             = "no volume"
	colNombreLots           = "nombre de lots"
	colCodeTypeLocal        = "code type local"
	colTypeLocal            = "type local"
	colIdentifiantLocal     = "identifiant local"
	colSurfaceReelleBati    = "surface reelle bati"
	colNombrePieces         = "nombre pieces principales"
	colNatureCulture        = "nature culture"
	colNatureCultureSpecial = "nature culture speciale"
	colSurfaceTerrain       = "surface terrain"
	colLongitude            = "longitude"
	colLatitude             = "latitude"
)

var (
	articleColumns = [5]string{"1 articles cgi", "2 articles cgi", "3 articles cgi", "4 articles cgi", "5 articles cgi"}
	lotColumns     = [5]string{"1er lot", "2eme lot", "3eme lot", "4eme lot", "5eme lot"}
	carrezColumns  = [5]string{
		"surface carrez du 1er lot",
		"surface carrez du 2eme lot",
		"surface carrez du 3eme lot",
		"surface carrez du 4eme lot",
		"surface carrez du 5eme lot",
	}
)

// Header maps normalised column names to their position in a line.
type Header struct {
	index map[string]int
}

// NewHeader builds a Header from the first line of the file.
func NewHeader(columns []string) *Header {
	h := &Header{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		name := normalizeColumn(c)
		if _, dup := h.index[name]; !dup {
			h.index[name] = i
		}
	}
	return h
}

// Has reports whether the named column is present.
func (h *Header) Has(column string) bool {
	_, ok := h.index[normalizeColumn(column)]
	return ok
}

// Parse turns the fields of one line into a Record. Malformed numeric
// values are stored as nil; the number of such values is returned.
func (h *Header) Parse(fields []string, line int) (Record, int) {
	p := fieldParser{h: h, fields: fields}

	r := Record{
		IdentifiantDocument: p.str(colIdentifiantDocument),
		ReferenceDocument:   p.str(colReferenceDocument),
		NoDisposition:       p.str(colNoDisposition),
		RawDate:             p.str(colDateMutation),
		NatureMutation:      p.str(colNatureMutation),
		ValeurFonciere:      p.float(colValeurFonciere),
		NoVoie:              p.str(colNoVoie),
		BTQ:                 p.str(colBTQ),
		TypeDeVoie:          p.str(colTypeDeVoie),
		CodeVoie:            p.str(colCodeVoie),
		Voie:                p.str(colVoie),
		CodePostal:          postalCode(p.str(colCodePostal)),
		Commune:             p.str(colCommune),
		CodeDepartement:     p.str(colCodeDepartement),
		CodeCommune:         p.str(colCodeCommune),
		PrefixeDeSection:    p.str(colPrefixeDeSection),
		Section:             p.str(colSection),
		NoPlan:              p.str(colNoPlan),
		NoVolume:            p.str(colNoVolume),
		NombreLots:          p.int(colNombreLots),
		CodeTypeLocal:       p.str(colCodeTypeLocal),
		TypeLocal:           p.str(colTypeLocal),
		IdentifiantLocal:    p.str(colIdentifiantLocal),
		SurfaceReelleBati:   p.float(colSurfaceReelleBati),
		NatureCulture:       p.str(colNatureCulture),
		SurfaceTerrain:      p.float(colSurfaceTerrain),
		Longitude:           p.float(colLongitude),
		Latitude:            p.float(colLatitude),
		Line:                line,
	}
	r.NombrePiecesPrincipales = p.int(colNombrePieces)
	r.NatureCultureSpeciale = p.str(colNatureCultureSpecial)

	for i := range r.ArticlesCGI {
		r.ArticlesCGI[i] = p.str(articleColumns[i])
	}
	for i := range r.Lots {
		r.Lots[i] = Lot{
			Numero:        p.str(lotColumns[i]),
			SurfaceCarrez: p.float(carrezColumns[i]),
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	r.RowHash = hex.EncodeToString(sum[:])

	return r, p.malformed
}

type fieldParser struct {
	h         *Header
	fields    []string
	malformed int
}

func (p *fieldParser) str(column string) string {
	i, ok := p.h.index[column]
	if !ok || i >= len(p.fields) {
		return ""
	}
	return strings.TrimSpace(p.fields[i])
}

func (p *fieldParser) float(column string) *float64 {
	raw := p.str(column)
	if raw == "" {
		return nil
	}
	v, ok := ParseDecimal(raw)
	if !ok {
		p.malformed++
		return nil
	}
	return &v
}

func (p *fieldParser) int(column string) *int {
	v := p.float(column)
	if v == nil {
		return nil
	}
	if *v != math.Trunc(*v) {
		p.malformed++
		return nil
	}
	n := int(*v)
	return &n
}

// ParseDecimal parses a number written with a decimal comma. Values that are
// not finite are rejected.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// postalCode restores the leading zero dropped by spreadsheet exports.
func postalCode(s string) string {
	if isDigits(s) && len(s) == 4 {
		return "0" + s
	}
	return s
}

func normalizeColumn(s string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripper, s)
	if err != nil {
		out = s
	}
	out = strings.TrimPrefix(out, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
