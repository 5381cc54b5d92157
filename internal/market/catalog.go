package market

import (
	"sort"
	"strings"
)

// Exchange identifiers used across the stack
const (
	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
	ExchangeMCX = "MCX"
	ExchangeCDS = "CDS"
)

// Instrument is one tradeable entry in the static catalogue
type Instrument struct {
	Symbol   string
	Name     string
	Exchange string
}

// mcxSymbols routes commodity contracts to MCX
var mcxSymbols = map[string]bool{
	"GOLD": true, "GOLDM": true, "GOLDPETAL": true,
	"SILVER": true, "SILVERM": true,
	"CRUDEOIL": true, "NATURALGAS": true,
	"COPPER": true, "ZINC": true, "LEAD": true,
	"ALUMINIUM": true, "NICKEL": true,
	"COTTON": true, "MENTHAOIL": true, "CASTORSEED": true,
}

// cdsSymbols routes currency pairs to CDS
var cdsSymbols = map[string]bool{
	"USDINR": true, "EURINR": true, "GBPINR": true, "JPYINR": true,
	"AUDINR": true, "CADINR": true, "CHFINR": true, "SGDINR": true,
	"HKDINR": true, "CNHINR": true,
}

// indexSymbols are routed to NSE but quoted through the index aliases
var indexSymbols = map[string]bool{
	"NIFTY 50": true, "NIFTY": true, "BANKNIFTY": true,
	"SENSEX": true, "INDIA VIX": true,
}

// ResolveExchange routes a symbol to its exchange. Commodities go to MCX,
// currency pairs to CDS, everything else to NSE unless the caller says BSE.
func ResolveExchange(symbol, hint string) string {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	if mcxSymbols[up] {
		return ExchangeMCX
	}
	if cdsSymbols[up] {
		return ExchangeCDS
	}
	if strings.EqualFold(hint, ExchangeBSE) {
		return ExchangeBSE
	}
	return ExchangeNSE
}

// IsIndex reports whether a symbol names a market index
func IsIndex(symbol string) bool {
	return indexSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
}

// catalogue is the static instrument universe used for search and movers
var catalogue = []Instrument{
	// NSE equities
	{"RELIANCE", "Reliance Industries", ExchangeNSE},
	{"TCS", "Tata Consultancy Services", ExchangeNSE},
	{"HDFCBANK", "HDFC Bank", ExchangeNSE},
	{"INFY", "Infosys", ExchangeNSE},
	{"ICICIBANK", "ICICI Bank", ExchangeNSE},
	{"HINDUNILVR", "Hindustan Unilever", ExchangeNSE},
	{"ITC", "ITC", ExchangeNSE},
	{"SBIN", "State Bank of India", ExchangeNSE},
	{"BHARTIARTL", "Bharti Airtel", ExchangeNSE},
	{"KOTAKBANK", "Kotak Mahindra Bank", ExchangeNSE},
	{"LT", "Larsen & Toubro", ExchangeNSE},
	{"AXISBANK", "Axis Bank", ExchangeNSE},
	{"ASIANPAINT", "Asian Paints", ExchangeNSE},
	{"MARUTI", "Maruti Suzuki India", ExchangeNSE},
	{"TITAN", "Titan Company", ExchangeNSE},
	{"SUNPHARMA", "Sun Pharmaceutical", ExchangeNSE},
	{"BAJFINANCE", "Bajaj Finance", ExchangeNSE},
	{"WIPRO", "Wipro", ExchangeNSE},
	{"HCLTECH", "HCL Technologies", ExchangeNSE},
	{"ULTRACEMCO", "UltraTech Cement", ExchangeNSE},
	{"NTPC", "NTPC", ExchangeNSE},
	{"POWERGRID", "Power Grid Corporation", ExchangeNSE},
	{"TATAMOTORS", "Tata Motors", ExchangeNSE},
	{"TATASTEEL", "Tata Steel", ExchangeNSE},
	{"ADANIENT", "Adani Enterprises", ExchangeNSE},
	{"ONGC", "Oil & Natural Gas Corporation", ExchangeNSE},
	{"COALINDIA", "Coal India", ExchangeNSE},
	{"JSWSTEEL", "JSW Steel", ExchangeNSE},
	{"TECHM", "Tech Mahindra", ExchangeNSE},
	{"M&M", "Mahindra & Mahindra", ExchangeNSE},

	// MCX commodities
	{"GOLD", "Gold (1 kg)", ExchangeMCX},
	{"GOLDM", "Gold Mini (100 g)", ExchangeMCX},
	{"GOLDPETAL", "Gold Petal (1 g)", ExchangeMCX},
	{"SILVER", "Silver (30 kg)", ExchangeMCX},
	{"SILVERM", "Silver Mini (5 kg)", ExchangeMCX},
	{"CRUDEOIL", "Crude Oil", ExchangeMCX},
	{"NATURALGAS", "Natural Gas", ExchangeMCX},
	{"COPPER", "Copper", ExchangeMCX},
	{"ZINC", "Zinc", ExchangeMCX},
	{"LEAD", "Lead", ExchangeMCX},
	{"ALUMINIUM", "Aluminium", ExchangeMCX},
	{"NICKEL", "Nickel", ExchangeMCX},
	{"COTTON", "Cotton", ExchangeMCX},
	{"MENTHAOIL", "Mentha Oil", ExchangeMCX},
	{"CASTORSEED", "Castor Seed", ExchangeMCX},

	// CDS currency pairs
	{"USDINR", "US Dollar / Indian Rupee", ExchangeCDS},
	{"EURINR", "Euro / Indian Rupee", ExchangeCDS},
	{"GBPINR", "British Pound / Indian Rupee", ExchangeCDS},
	{"JPYINR", "Japanese Yen / Indian Rupee", ExchangeCDS},
	{"AUDINR", "Australian Dollar / Indian Rupee", ExchangeCDS},
	{"CADINR", "Canadian Dollar / Indian Rupee", ExchangeCDS},
	{"CHFINR", "Swiss Franc / Indian Rupee", ExchangeCDS},
	{"SGDINR", "Singapore Dollar / Indian Rupee", ExchangeCDS},
	{"HKDINR", "Hong Kong Dollar / Indian Rupee", ExchangeCDS},
	{"CNHINR", "Chinese Yuan / Indian Rupee", ExchangeCDS},
}

// SearchCatalogue does a case-insensitive substring match over symbol and
// name, optionally restricted to one exchange.
func SearchCatalogue(query string, limit int, exchange string) []SearchResult {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}

	var results []SearchResult
	for _, inst := range catalogue {
		if exchange != "" && !strings.EqualFold(inst.Exchange, exchange) {
			continue
		}
		if strings.Contains(inst.Symbol, q) || strings.Contains(strings.ToUpper(inst.Name), q) {
			results = append(results, SearchResult{
				Symbol:   inst.Symbol,
				Name:     inst.Name,
				Exchange: inst.Exchange,
			})
			if len(results) >= limit {
				break
			}
		}
	}
	return results
}

// EquitySymbols returns the NSE equity slice of the catalogue, sorted.
// Feeds the movers ranking.
func EquitySymbols() []string {
	var out []string
	for _, inst := range catalogue {
		if inst.Exchange == ExchangeNSE {
			out = append(out, inst.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// LookupInstrument finds a catalogue entry by symbol
func LookupInstrument(symbol string) (Instrument, bool) {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	for _, inst := range catalogue {
		if inst.Symbol == up {
			return inst, true
		}
	}
	return Instrument{}, false
}
