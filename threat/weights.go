package threat

// Weights is the scoring model: every signal's contribution lives here so the
// model can be tuned and tested independently of the pipeline. Version bumps
// whenever a weight changes, so stored scores can be compared meaningfully.
type Weights struct {
	Version string

	// User-agent signals (sub-score capped by UACap).
	MissingUA      int
	KnownBotUA     int
	AllowedBotUA   int
	MalformedUA    int
	ShortUA        int
	AutomationTool int
	UACap          int

	// Header-completeness signals (capped by HeaderCap).
	MissingAcceptHTML int
	MissingLanguage   int
	WeakEncoding      int
	ProxyHeader       int
	AutomationHeader  int
	HeaderCap         int

	// IP signals (capped by IPCap).
	DatacenterIP int
	IPCap        int

	// Store-backed history signals (uncapped, clamped by the total).
	RepeatedOffender       int
	HighVelocity           int
	FastRequests           int
	FingerprintInstability int

	// Decision thresholds.
	BotThreshold        int
	SuspiciousThreshold int
}

// DefaultWeights is the production scoring model. Only an outright known-bot
// UA match can reach the bot threshold on its own.
var DefaultWeights = Weights{
	Version: "2024-11",

	MissingUA:      50,
	KnownBotUA:     60,
	AllowedBotUA:   5,
	MalformedUA:    20,
	ShortUA:        15,
	AutomationTool: 50,
	UACap:          60,

	MissingAcceptHTML: 10,
	MissingLanguage:   10,
	WeakEncoding:      5,
	ProxyHeader:       15,
	AutomationHeader:  30,
	HeaderCap:         40,

	DatacenterIP: 20,
	IPCap:        30,

	RepeatedOffender:       30,
	HighVelocity:           25,
	FastRequests:           10,
	FingerprintInstability: 30,

	BotThreshold:        70,
	SuspiciousThreshold: 40,
}
