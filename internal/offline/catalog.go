package offline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is the static description of one instrument in the
// offline universe.
type CatalogEntry struct {
	Symbol          string  `yaml:"symbol" json:"symbol"`
	Name            string  `yaml:"name" json:"name"`
	Sector          string  `yaml:"sector" json:"sector"`
	BasePrice       float64 `yaml:"base_price" json:"basePrice"`
	DebtToMarketCap float64 `yaml:"debt_to_market_cap" json:"debtToMarketCap"`
	CashToMarketCap float64 `yaml:"cash_to_market_cap" json:"cashToMarketCap"`
}

// ErrNoSymbolColumn is returned by ParseCSV when the header lacks "symbol".
var ErrNoSymbolColumn = errors.New("csv must have 'symbol' column")

// DefaultCatalog returns the built-in NSE universe.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{"RELIANCE", "Reliance Industries", "Energy", 2450, 0.22, 0.08},
		{"TCS", "Tata Consultancy Services", "Information Technology", 3900, 0.01, 0.12},
		{"HDFCBANK", "HDFC Bank", "Banking", 1650, 0.85, 0.10},
		{"INFY", "Infosys", "Information Technology", 1500, 0.02, 0.09},
		{"ITC", "ITC Limited", "Tobacco & FMCG", 440, 0.00, 0.05},
		{"HINDUNILVR", "Hindustan Unilever", "FMCG", 2550, 0.01, 0.04},
		{"BAJFINANCE", "Bajaj Finance", "Finance", 7100, 0.70, 0.06},
		{"ASIANPAINT", "Asian Paints", "Paints", 3100, 0.04, 0.03},
		{"MARUTI", "Maruti Suzuki", "Automobile", 10500, 0.01, 0.35},
		{"TITAN", "Titan Company", "Consumer Durables", 3300, 0.07, 0.02},
		{"SUNPHARMA", "Sun Pharmaceutical", "Pharmaceuticals", 1200, 0.04, 0.11},
		{"WIPRO", "Wipro", "Information Technology", 460, 0.06, 0.18},
		{"LT", "Larsen & Toubro", "Construction", 3400, 0.38, 0.07},
		{"HAL", "Hindustan Aeronautics", "Aerospace & Defense", 4200, 0.00, 0.20},
	}
}

type catalogFile struct {
	Instruments []CatalogEntry `yaml:"instruments"`
}

// LoadCatalog reads a catalog file. A .csv path is parsed with ParseCSV;
// anything else is YAML of the form:
//
//	instruments:
//	  - symbol: TCS
//	    name: Tata Consultancy Services
//	    sector: Information Technology
//	    base_price: 3900
func LoadCatalog(path string) ([]CatalogEntry, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return loadCSVCatalog(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	out := f.Instruments[:0]
	for _, e := range f.Instruments {
		if e.Symbol = strings.TrimSpace(e.Symbol); e.Symbol == "" {
			continue
		}
		if e.Name == "" {
			e.Name = e.Symbol
		}
		if e.Sector == "" {
			e.Sector = "Unknown"
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog %s has no instruments", path)
	}
	return out, nil
}

func loadCSVCatalog(path string) ([]CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	defer f.Close()
	out, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog %s has no instruments", path)
	}
	return out, nil
}

// ParseCSV reads a stock-list upload. Columns are matched case-insensitively;
// only "symbol" is required. Blank symbols are skipped, the exchange suffix
// is stripped, name defaults to the symbol and sector to "Unknown".
// Optional numeric columns: base_price, debt_to_market_cap, cash_to_market_cap.
func ParseCSV(r io.Reader) ([]CatalogEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["symbol"]; !ok {
		return nil, ErrNoSymbolColumn
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	number := func(rec []string, name string) float64 {
		v, _ := strconv.ParseFloat(field(rec, name), 64)
		return v
	}

	var out []CatalogEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		sym := CleanSymbol(field(rec, "symbol"))
		if sym == "" || strings.EqualFold(sym, "nan") {
			continue
		}
		e := CatalogEntry{
			Symbol:          sym,
			Name:            field(rec, "name"),
			Sector:          field(rec, "sector"),
			BasePrice:       number(rec, "base_price"),
			DebtToMarketCap: number(rec, "debt_to_market_cap"),
			CashToMarketCap: number(rec, "cash_to_market_cap"),
		}
		if e.Name == "" {
			e.Name = sym
		}
		if e.Sector == "" {
			e.Sector = "Unknown"
		}
		out = append(out, e)
	}
	return out, nil
}

// CleanSymbol upper-cases a ticker and strips an NSE/BSE suffix.
func CleanSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".NS")
	s = strings.TrimSuffix(s, ".BO")
	return s
}
