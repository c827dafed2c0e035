package enrich

import (
	"strings"

	"portsync/internal/models"
)

// Таблица биржа -> страна листинга
//
// Коды бирж - как их сообщает шлюз в primaryExchange/exchange.
var exchangeCountry = map[string]string{
	// США
	"NASDAQ": "United States",
	"NYSE":   "United States",
	"AMEX":   "United States",
	"ARCA":   "United States",
	"BATS":   "United States",
	"PINK":   "United States",
	"SMART":  "United States",
	"CBOE":   "United States",

	// Германия
	"IBIS":   "Germany",
	"IBIS2":  "Germany",
	"FWB":    "Germany",
	"SWB":    "Germany",
	"GETTEX": "Germany",

	// Европа
	"LSE":    "United Kingdom",
	"LSEETF": "United Kingdom",
	"SBF":    "France",
	"AEB":    "Netherlands",
	"EBS":    "Switzerland",
	"VIRTX":  "Switzerland",
	"BVME":   "Italy",
	"BM":     "Spain",
	"OSE":    "Norway",
	"SFB":    "Sweden",
	"CPH":    "Denmark",
	"WSE":    "Poland",
	"VSE":    "Austria",

	// Азия и Океания
	"TSEJ": "Japan",
	"SEHK": "Hong Kong",
	"ASX":  "Australia",
	"SGX":  "Singapore",

	// Америки
	"TSX":     "Canada",
	"VENTURE": "Canada",
	"MEXI":    "Mexico",
}

// Префиксы символов гособлигаций США
//
// Трежерис торгуются на разных площадках, но страна эмитента всегда
// одна: правило по символу перекрывает таблицу бирж.
var treasuryPrefixes = []string{"T ", "US-T", "UST"}

// Country определяет страну инструмента
//
// Порядок: правило трежерис -> primaryExchange -> exchange -> пусто.
func Country(p *models.Position) string {
	if p.SecType == models.SecTypeBond && isTreasury(p.Symbol) {
		return "United States"
	}

	if c, ok := exchangeCountry[strings.ToUpper(p.PrimaryExchange)]; ok {
		return c
	}
	if c, ok := exchangeCountry[strings.ToUpper(p.Exchange)]; ok {
		return c
	}
	return ""
}

func isTreasury(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, prefix := range treasuryPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}
