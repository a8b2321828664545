package tokenizer

var defaultWords = []string{
	"the", "a", "an", "of", "to", "in", "is", "are", "was", "be",
	"and", "or", "but", "not", "for", "on", "with", "as", "by", "at",
	"from", "that", "this", "it", "its", "they", "we", "you", "he", "she",
	"future", "ai", "capital", "france", "paris", "president", "united", "states", "america", "city",
	"world", "people", "model", "models", "language", "data", "system", "systems", "machine", "learning",
	"will", "can", "could", "would", "should", "may", "might", "must", "has", "have",
	"had", "do", "does", "did", "make", "made", "take", "help", "build", "change",
	"new", "old", "large", "small", "fast", "slow", "good", "better", "best", "great",
	"many", "more", "most", "some", "all", "every", "each", "few", "other", "same",
	"time", "year", "years", "day", "way", "work", "life", "part", "place", "case",
	"country", "government", "nation", "state", "house", "office", "leader", "power", "policy", "law",
	"science", "research", "technology", "computer", "network", "software", "hardware", "code", "engine", "server",
	"human", "humans", "society", "economy", "market", "industry", "company", "companies", "jobs", "workers",
	"bright", "uncertain", "exciting", "important", "powerful", "open", "safe", "secure", "private", "public",
	"known", "called", "located", "elected", "named", "home", "center", "capitol", "river", "seine",
	"europe", "western", "largest", "oldest", "famous", "beautiful", "history", "culture", "art", "food",
	"first", "second", "last", "next", "current", "former", "modern", "early", "late", "long",
	"here", "there", "now", "then", "today", "tomorrow", "always", "never", "often", "soon",
	"think", "know", "see", "use", "find", "give", "tell", "ask", "seem", "feel",
	"one", "two", "three", "four", "five", "ten", "hundred", "thousand", "million", "billion",
	"about", "into", "over", "after", "before", "between", "through", "during", "without", "under",
	"which", "who", "what", "when", "where", "why", "how", "if", "because", "while",
	"very", "also", "just", "only", "still", "even", "well", "much", "less", "again",
	"reasoning", "agents", "tools", "speech", "vision", "robots", "automation", "ethics", "regulation", "alignment",
}
