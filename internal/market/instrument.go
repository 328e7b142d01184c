package market

import (
	"fmt"
	"strings"
)

// SecType is the security type of a tradable contract, using the upstream
// gateway's spellings.
type SecType string

const (
	SecTypeStock     SecType = "STK"
	SecTypeOption    SecType = "OPT"
	SecTypeFuture    SecType = "FUT"
	SecTypeForex     SecType = "CASH"
	SecTypeBond      SecType = "BOND"
	SecTypeCFD       SecType = "CFD"
	SecTypeCommodity SecType = "CMDTY"
	SecTypeCrypto    SecType = "CRYPTO"
	SecTypeFund      SecType = "FUND"
	SecTypeIndex     SecType = "IND"
	SecTypeWarrant   SecType = "WAR"
	SecTypeCombo     SecType = "BAG"
)

var secTypes = map[SecType]bool{
	SecTypeStock: true, SecTypeOption: true, SecTypeFuture: true,
	SecTypeForex: true, SecTypeBond: true, SecTypeCFD: true,
	SecTypeCommodity: true, SecTypeCrypto: true, SecTypeFund: true,
	SecTypeIndex: true, SecTypeWarrant: true, SecTypeCombo: true,
}

// Instrument is a uniquely identified tradable contract. Identity is the
// full composite (Symbol, SecType, Exchange, Currency, Expiry, Strike,
// Right); the derivative fields are empty for cash instruments.
type Instrument struct {
	Symbol   string
	SecType  SecType
	Exchange string
	Currency string

	// Derivative attributes, empty/zero unless SecType requires them.
	Expiry string // contract month or date, e.g. "202603" or "20260320"
	Strike float64
	Right  string // "C" or "P" for options
}

// NewInstrument builds a validated cash instrument.
func NewInstrument(symbol string, secType SecType, exchange, currency string) (Instrument, error) {
	inst := Instrument{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		SecType:  secType,
		Exchange: exchange,
		Currency: strings.ToUpper(currency),
	}
	if err := inst.Validate(); err != nil {
		return Instrument{}, err
	}
	return inst, nil
}

func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument symbol is empty")
	}
	if !secTypes[i.SecType] {
		return fmt.Errorf("unknown security type %q", i.SecType)
	}
	if len(i.Currency) != 3 {
		return fmt.Errorf("currency %q is not an ISO 4217 code", i.Currency)
	}
	if i.Right != "" && i.Right != "C" && i.Right != "P" {
		return fmt.Errorf("option right %q must be C or P", i.Right)
	}
	return nil
}

// Key returns the canonical composite identity, used for cache keys and
// coalescing. All identity fields participate so two option legs on the same
// underlying never collide.
func (i Instrument) Key() string {
	var b strings.Builder
	b.WriteString(i.Symbol)
	b.WriteByte('.')
	b.WriteString(string(i.SecType))
	b.WriteByte('.')
	b.WriteString(i.Exchange)
	b.WriteByte('.')
	b.WriteString(i.Currency)
	if i.Expiry != "" || i.Strike != 0 || i.Right != "" {
		fmt.Fprintf(&b, ".%s.%g.%s", i.Expiry, i.Strike, i.Right)
	}
	return b.String()
}

func (i Instrument) String() string {
	return i.Key()
}
