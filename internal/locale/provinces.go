package locale

import (
	"context"
	"regexp"
	"strings"

	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// ProvinceUnknown is the sentinel returned when no strategy produces a valid
// two-letter code.
const ProvinceUnknown = "unknown"

// provinceCodes is the full set of Italian two-letter province codes.
var provinceCodes = map[string]bool{
	"AG": true, "AL": true, "AN": true, "AO": true, "AP": true, "AQ": true,
	"AR": true, "AT": true, "AV": true, "BA": true, "BG": true, "BI": true,
	"BL": true, "BN": true, "BO": true, "BR": true, "BS": true, "BT": true,
	"BZ": true, "CA": true, "CB": true, "CE": true, "CH": true, "CL": true,
	"CN": true, "CO": true, "CR": true, "CS": true, "CT": true, "CZ": true,
	"EN": true, "FC": true, "FE": true, "FG": true, "FI": true, "FM": true,
	"FR": true, "GE": true, "GO": true, "GR": true, "IM": true, "IS": true,
	"KR": true, "LC": true, "LE": true, "LI": true, "LO": true, "LT": true,
	"LU": true, "MB": true, "MC": true, "ME": true, "MI": true, "MN": true,
	"MO": true, "MS": true, "MT": true, "NA": true, "NO": true, "NU": true,
	"OR": true, "PA": true, "PC": true, "PD": true, "PE": true, "PG": true,
	"PI": true, "PN": true, "PO": true, "PR": true, "PT": true, "PU": true,
	"PV": true, "PZ": true, "RA": true, "RC": true, "RE": true, "RG": true,
	"RI": true, "RM": true, "RN": true, "RO": true, "SA": true, "SI": true,
	"SO": true, "SP": true, "SR": true, "SS": true, "SU": true, "SV": true,
	"TA": true, "TE": true, "TN": true, "TO": true, "TP": true, "TR": true,
	"TS": true, "TV": true, "UD": true, "VA": true, "VB": true, "VC": true,
	"VE": true, "VI": true, "VR": true, "VT": true, "CI": true, "OG": true,
	"OT": true, "VS": true,
}

// IsProvinceCode reports whether code is a known two-letter province code.
func IsProvinceCode(code string) bool {
	return provinceCodes[strings.ToUpper(code)]
}

var (
	codeRe        = regexp.MustCompile(`\b([A-Za-z]{2})\b`)
	zipRe         = regexp.MustCompile(`\b(\d{5})\b`)
	placeholderRe = regexp.MustCompile(`(?i)(follow-up call|address tbd|indirizzo da definire|to be determined)`)
)

// ProvinceLLM is the fallback used when neither a direct code nor a ZIP match
// resolves the province. Implemented by the Gemini adapter.
type ProvinceLLM interface {
	GuessProvince(ctx context.Context, address string) (string, error)
}

// Extractor resolves an Italian province code from a free-form address.
type Extractor struct {
	zips *ZipCache
	llm  ProvinceLLM
}

// NewExtractor builds an Extractor. Both collaborators are optional; a nil
// collaborator just disables that strategy.
func NewExtractor(zips *ZipCache, llm ProvinceLLM) *Extractor {
	return &Extractor{zips: zips, llm: llm}
}

// Extract resolves the province of an address, trying in order: a direct
// two-letter code, a ZIP lookup, and finally the LLM. Placeholder addresses
// short-circuit to ProvinceUnknown.
func (e *Extractor) Extract(ctx context.Context, address string) string {
	address = strings.TrimSpace(address)
	if address == "" || placeholderRe.MatchString(address) {
		return ProvinceUnknown
	}

	for _, m := range codeRe.FindAllStringSubmatch(address, -1) {
		candidate := strings.ToUpper(m[1])
		if provinceCodes[candidate] {
			return candidate
		}
	}

	if e.zips != nil {
		for _, m := range zipRe.FindAllStringSubmatch(address, -1) {
			if prov, ok := e.zips.Lookup(ctx, m[1]); ok {
				return prov
			}
		}
	}

	if e.llm != nil {
		guess, err := e.llm.GuessProvince(ctx, address)
		if err != nil {
			logger.Base().Warn("province llm fallback failed", zap.Error(err))
			return ProvinceUnknown
		}
		guess = strings.ToUpper(strings.TrimSpace(guess))
		if provinceCodes[guess] {
			return guess
		}
	}

	return ProvinceUnknown
}
