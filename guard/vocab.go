package guard

import "regexp"

// Static pattern and vocabulary tables. Loaded once at init into read-only
// structures and shared by reference between validators; never mutated at
// runtime.

// ---------------------------------------------------------------------------
// Security threat patterns (intent guard layer 1 delegates to the signature
// validator; these broader classes catch what the signature table does not).
// ---------------------------------------------------------------------------

type threatPattern struct {
	re         *regexp.Regexp
	threatType string
}

var securityPatterns = []threatPattern{
	// SQL injection in raw prompt text
	{regexp.MustCompile(`(?i)(\bUNION\b|\bSELECT\b.*\bFROM\b|\bDROP\b|\bDELETE\b|\bINSERT\b)`), "sql_injection"},
	{regexp.MustCompile(`(?i)('|")\s*(?:or|and)\s*('|")?1('|")?`), "sql_injection"},
	{regexp.MustCompile(`(--|#|/\*|\*/)`), "sql_injection"},
	{regexp.MustCompile(`(?i)(\bEXEC\b|\bEXECUTE\b|\bSHELL\b)`), "sql_injection"},
	{regexp.MustCompile("`.*`"), "sql_injection"},
	// Prompt injection
	{regexp.MustCompile(`(?i)(ignore|disregard|forget).*?(previous|prior|instruction|prompt)`), "prompt_injection"},
	{regexp.MustCompile(`(?i)(jailbreak|bypass|override|disable).*?filter`), "prompt_injection"},
	{regexp.MustCompile(`(?i)simulate a.*?(unrestricted|uncensored|without safety)`), "prompt_injection"},
	{regexp.MustCompile(`(?i)(act as|role play|pretend to be).*?without`), "prompt_injection"},
	{regexp.MustCompile(`(?i)you are no longer`), "prompt_injection"},
	{regexp.MustCompile(`(?i)(system prompt|hidden instruction|true purpose)`), "prompt_injection"},
	// NoSQL injection
	{regexp.MustCompile(`(?i)(\$where|\$regex|\$ne|\$gt|\$lt|\$exists)`), "nosql_injection"},
	{regexp.MustCompile(`(?i)(db\..*?\.find)`), "nosql_injection"},
	// XSS
	{regexp.MustCompile(`<script[^>]*>`), "xss"},
	{regexp.MustCompile(`javascript:`), "xss"},
	{regexp.MustCompile(`<iframe`), "xss"},
	// Malware / attack tooling
	{regexp.MustCompile(`(?i)(virus|trojan|backdoor|ransomware|botnet|exploit|0day)`), "malware"},
	{regexp.MustCompile(`(?i)(hack|crack|bruteforce|password.*dump)`), "malware"},
	{regexp.MustCompile(`(?i)(phishing|spoofing|man-in-the-middle)`), "malware"},
	// External URLs and executables
	{regexp.MustCompile(`https?://\S+`), "external_reference"},
	{regexp.MustCompile(`(?i)www\.\S+`), "external_reference"},
	{regexp.MustCompile(`(?i)\.exe|\.bat|\.cmd|\.ps1`), "external_reference"},
}

// ---------------------------------------------------------------------------
// Gibberish / spam patterns (anchored, matched against the whole query)
// ---------------------------------------------------------------------------

var gibberishPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-z]{1,2}$`),                // too short
	regexp.MustCompile(`^[aeiou]{4,}$`),               // only vowels
	regexp.MustCompile(`^[bcdfghjklmnpqrstvwxyz]{6,}$`), // only consonants
	regexp.MustCompile(`^[\W\d_]{3,}$`),               // only symbols/numbers
	regexp.MustCompile(`^\d+$`),                       // only numbers
}

// isRepeatedChar reports whether the query is a single character repeated six
// or more times (the intent of `^(.)\1{5,}$`, which Go's RE2 engine cannot
// express because it lacks backreferences).
func isRepeatedChar(s string) bool {
	runes := []rune(s)
	if len(runes) < 6 || runes[0] == '\n' {
		return false
	}
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Greeting / meta patterns
// ---------------------------------------------------------------------------

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hello|hi|hey|howdy|hola|greetings)(\s+\w+)*\s*[!?.]*$`),
	regexp.MustCompile(`^(good\s+(morning|afternoon|evening|night))(\s+\w+)*\s*[!?.]*$`),
	regexp.MustCompile(`^(goodbye|bye|see you|later|thanks|thank you)(\s+\w+)*\s*[!?.]*$`),
	regexp.MustCompile(`^how are you`),
	regexp.MustCompile(`^what'?s up`),
	regexp.MustCompile(`^(nice|pleased)\s+to\s+meet\s+you`),
}

var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(who|what).*?(are|is)\s+you\??$`),
	regexp.MustCompile(`^(what\s+can|are)\s+your\s+(capabilities|features)`),
	regexp.MustCompile(`^(tell|introduce).*?yourself`),
}

// ---------------------------------------------------------------------------
// Off-topic patterns
// ---------------------------------------------------------------------------

var generalKnowledgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(weather|forecast|temperature)\b`),
	regexp.MustCompile(`(?i)\b(news|headline|politics|government)\b`),
	regexp.MustCompile(`(?i)\b(sport|football|cricket|basketball)\b`),
	regexp.MustCompile(`(?i)\b(movie|film|netflix|series)\b`),
	regexp.MustCompile(`(?i)\b(recipe|cooking|food)\b`),
	regexp.MustCompile(`(?i)\b(joke|funny|humor|tell me a)\b`),
	regexp.MustCompile(`(?i)\b(song|music|artist|album)\b`),
	regexp.MustCompile(`(?i)\b(capital of|president of|who invented)\b`),
	regexp.MustCompile(`(?i)\b(in spanish|in french|in german|in hindi|in chinese|in japanese)\b`),
	regexp.MustCompile(`(?i)\b(translate|translation|called in|say in|meaning in)\b`),
	regexp.MustCompile(`(?i)\b(language|dictionary|definition of)\b`),
	regexp.MustCompile(`(?i)\b(god|devil|heaven|hell|soul|spirit|afterlife)\b`),
	regexp.MustCompile(`(?i)\b(mates? with|breed|reproduce|give birth|marry|love)\b`),
	regexp.MustCompile(`(?i)\b(aliens?|ufo|ghost|magic|supernatural)\b`),
	regexp.MustCompile(`(?i)\b(kill|murder|die|death|dead)\b`),
	regexp.MustCompile(`(?i)\b(dream|nightmare|sleep|fairy|unicorn)\b`),
	// Products not made in furnaces
	regexp.MustCompile(`(?i)\b(milk|cheese|butter|bread|food|fruit|vegetable|meat|fish|chicken|egg)\b`),
	regexp.MustCompile(`(?i)\b(car|truck|bicycle|motorcycle|plane|boat|vehicle)\b`),
	regexp.MustCompile(`(?i)\b(clothes|shirt|pants|shoes|dress|jacket|hat)\b`),
	regexp.MustCompile(`(?i)\b(phone|laptop|computer|tablet|tv|television)\b`),
	regexp.MustCompile(`(?i)\b(book|paper|pen|pencil|paint|art)\b`),
	regexp.MustCompile(`(?i)\b(medicine|drug|pill|vaccine|hospital|doctor)\b`),
	regexp.MustCompile(`(?i)\b(house|building|apartment|room|office|school)\b`),
}

var programmingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(javascript|js|python|java|c\+\+|typescript|react|angular|vue)\b`),
	regexp.MustCompile(`(?i)\b(int|let|var|const|function|class|def|import|export)\b`),
	regexp.MustCompile(`(?i)\b(code|coding|programming|developer|software|api|frontend|backend)\b`),
	regexp.MustCompile(`(?i)\b(html|css|sql syntax|database schema|table structure)\b`),
	regexp.MustCompile(`(?i)\b(error|exception|bug|debug|compile|runtime)\b`),
	regexp.MustCompile(`(?i)\b(npm|pip|package|library|framework|module)\b`),
}

var mathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s*[\+\-\*/\^]\s*\d+`),
	regexp.MustCompile(`(?i)\bsum of \d+ number`),
	regexp.MustCompile(`(?i)\b(add|subtract|multiply|divide|plus|minus|times)\b.*\d`),
	regexp.MustCompile(`(?i)\bwhat is \d+\s*[\+\-\*/]`),
	regexp.MustCompile(`(?i)\bcalculate \d+\s*[\+\-\*/]`),
	regexp.MustCompile(`(?i)\b\d+\s*(plus|minus|times|divided by)\s*\d+`),
	regexp.MustCompile(`(?i)\b(factorial|square root|sqrt|power of)\b`),
	regexp.MustCompile(`(?i)\bsolve\s+\d`),
}

// ---------------------------------------------------------------------------
// Action words and domain vocabularies
// ---------------------------------------------------------------------------

var actionWords = makeSet(
	// interrogatives
	"what", "which", "how", "when", "where", "why", "who",
	// data retrieval imperatives
	"show", "get", "list", "display", "find", "fetch",
	"calculate", "compute", "average", "sum", "count",
	"compare", "analyze", "check", "provide",
	"top", "bottom", "highest", "lowest", "best", "worst",
	"give", "retrieve", "filter", "between", "from", "for", "by",
	// documentation verbs
	"explain", "describe", "tell", "about", "define", "meaning",
)

// Domain phrases whose presence makes a query valid even without an action
// word ("explain about plant config").
var domainOverridePhrases = []string{
	"raw material", "additives", "plant config", "furnace config",
	"system config", "configuration", "process", "procedure", "workflow",
	"grading plan", "lab analysis", "log book", "logbook", "tap hole",
	"ehs", "incident", "sop", "setup", "setting",
	"master data", "access control", "roles", "users",
}

// Non-domain terms that indicate the query is about something else entirely.
var suspiciousWords = makeSet(
	"neural", "schema", "architecture", "model", "training", "ai", "ml",
	"blockchain", "crypto", "nft", "token", "deploy", "container", "docker",
	"kubernetes", "server", "client", "localhost", "port", "http", "https",
	"algorithm", "recursive", "iterate", "array", "object", "string",
	"ur", "u", "pls", "plz", "gonna", "wanna", "dunno",
)

// Primary manufacturing vocabulary: strong domain signals.
var primaryKeywords = []string{
	"furnace", "oee", "efficiency", "production", "defect",
	"yield", "downtime", "quality", "output", "shift",
	"ignis", "mes", "equipment", "machine",
}

// Secondary vocabulary: KPIs, process, master-data, reporting and EHS terms.
var secondaryKeywords = []string{
	"mtbf", "mttr", "mtbs", "fpy", "compliance", "utilization",
	"today", "yesterday",
	"tap", "cast", "tapping", "grading", "electrode",
	"configuration", "roles", "users",
	"additives", "byproducts", "wip", "products", "material",
	"report", "reports", "consumption", "analysis",
	"lab", "laboratory", "spout",
	"log", "logbook",
	"ehs", "incident", "safety", "environment",
	"brd", "sop", "procedure", "workflow", "guideline", "process",
	"metric", "kpi", "dashboard", "setup", "setting",
}

// Known typo variants mapped back to canonical keywords.
var keywordVariants = map[string]string{
	"furnce": "furnace", "furnasse": "furnace", "burner": "furnace",
	"efficency": "efficiency", "efficient": "efficiency",
	"o.e.e": "oee", "o.e.e.": "oee", "oe.e": "oee",
	"prodcution": "production", "producton": "production", "produciton": "production",
	"defects": "defect", "deffect": "defect",
	"qualitu": "quality", "qualit": "quality",
	"igni": "ignis", "igs": "ignis",
}

// Multi-word domain phrases that short-circuit the relevance layer as an
// automatic pass. Curated from the system's requirement documents.
var domainPhrases = []string{
	// System configuration
	"plant config", "plant configuration",
	"furnace config", "furnace configuration",
	"system config", "system configuration",
	"user access", "user access control", "access control", "roles", "users",
	// Master data
	"master data", "material maintenance",
	"raw material", "raw materials", "furnace raw material", "furnace raw materials",
	"additives", "additive",
	"byproduct", "byproducts", "by-product", "by-products", "by product", "by products",
	"wip", "work in progress",
	"grading plan", "grading",
	"products", "product",
	// Core process
	"core process", "core process production",
	"production process", "process flow",
	"tapping", "tap", "cast", "electrode",
	// Reports
	"raw material consumption", "raw material consumption report",
	"raw material analysis", "raw material analysis report",
	"raw material size analysis", "size analysis",
	"spout analysis", "spout analysis report",
	"tap analysis", "tap analysis report",
	"production report", "production",
	"downtime analysis", "downtime analysis report", "downtime report",
	"quality summary", "quality summary report", "quality report",
	"report format", "report structure", "report fields", "reports",
	// Lab analysis
	"lab analysis", "laboratory analysis", "laboratory",
	"lab raw material", "lab raw material analysis",
	"lab spout analysis", "lab spout",
	"lab tap analysis", "lab tap",
	// Log book
	"log book", "logbook", "log",
	"tap hole", "tap hole log",
	"furnace bed", "furnace bed log", "bed log",
	"furnace downtime", "furnace downtime log", "downtime log",
	// EHS
	"ehs", "incident", "incident reporting", "incident report",
	"safety", "safety reporting", "safety report",
	"environment", "environment health", "environment health safety",
	"health safety",
	// General documentation terms
	"brd", "sop", "procedure", "workflow", "guideline", "guidelines",
	"policy", "process", "requirement", "specification",
	"configure", "configuration", "setup", "setting", "settings",
	// Question shapes that indicate documentation queries
	"how to", "how do", "how does", "how can", "how should",
	"tell me about", "explain about", "explain the",
	"describe", "describe the", "definition", "define",
	"what is the process", "what are the steps",
	"what does", "meaning of",
}

// ---------------------------------------------------------------------------
// Harmful keywords re-checked against reversed text by the flipping detector
// ---------------------------------------------------------------------------

var harmfulKeywords = makeSet(
	"bomb", "exploit", "hack", "malware", "bypass", "jailbreak",
	"extract", "leak", "steal", "fraudulent", "unauthorized",
	"delete", "drop", "truncate", "destroy", "kill", "attack",
	"inject", "override", "admin", "root", "password", "credential",
)

var tokenPattern = regexp.MustCompile(`\b\w+\b`)

func makeSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
