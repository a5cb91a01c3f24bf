package scrape

// turkishBankCodes is the currency set Turkish bank rate tables publish.
// Extractors filter every resolved code against it so a drifted table can
// never inject arbitrary codes downstream.
var turkishBankCodes = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CHF": {}, "JPY": {},
	"AUD": {}, "CAD": {}, "DKK": {}, "NOK": {}, "SEK": {},
	"SAR": {}, "AED": {}, "KWD": {}, "RUB": {}, "CNY": {},
	"XAU": {},
}

// turkishCurrencyNames maps localized currency names to ISO codes. Shared
// by sources whose tables spell names without codes.
var turkishCurrencyNames = map[string]string{
	"amerikan doları":    "USD",
	"abd doları":         "USD",
	"euro":               "EUR",
	"avro":               "EUR",
	"ingiliz sterlini":   "GBP",
	"isviçre frangı":     "CHF",
	"japon yeni":         "JPY",
	"avustralya doları":  "AUD",
	"kanada doları":      "CAD",
	"danimarka kronu":    "DKK",
	"norveç kronu":       "NOK",
	"isveç kronu":        "SEK",
	"suudi arabistan riyali": "SAR",
	"bae dirhemi":        "AED",
	"kuveyt dinarı":      "KWD",
	"rus rublesi":        "RUB",
	"çin yuanı":          "CNY",
	"gram altın":         "XAU",
}

func codeSet() map[string]struct{} {
	out := make(map[string]struct{}, len(turkishBankCodes))
	for k := range turkishBankCodes {
		out[k] = struct{}{}
	}
	return out
}
