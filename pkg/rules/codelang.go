package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// minLanguageScore is the lowest winning score that counts as a detection.
const minLanguageScore = 3

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

func weighted(expr string, weight int) weightedPattern {
	return weightedPattern{re: regexp.MustCompile(expr), weight: weight}
}

var languagePatterns = map[string][]weightedPattern{
	"python": {
		weighted(`(?i)\bdef\s+\w+\s*\([^)]*\)\s*:`, 3),
		weighted(`(?i)\bimport\s+\w+|from\s+\w+\s+import`, 2),
		weighted(`(?i)\bif\s+__name__\s*==\s*["']__main__["']`, 4),
		weighted(`(?i)\bclass\s+\w+\s*\([^)]*\)\s*:`, 3),
		weighted(`(?i)\belif\b|\bexcept\b|\bfinally\b`, 2),
		weighted(`(?m)^\s{4}\w+|^\s{4}#`, 1),
		weighted(`(?i)\bprint\s*\(|\blen\s*\(|\brange\s*\(`, 1),
		weighted(`(?i)\.py\b|python\b`, 1),
	},
	"javascript": {
		weighted(`(?i)\bfunction\s+\w+\s*\([^)]*\)\s*\{`, 3),
		weighted(`(?i)\b(?:const|let|var)\s+\w+\s*=`, 2),
		weighted(`(?i)=>|\.then\s*\(|\.catch\s*\(`, 2),
		weighted(`(?i)\bconsole\.log\s*\(|\balert\s*\(`, 2),
		weighted(`(?i)\b(?:async|await)\b`, 2),
		weighted(`(?i)\brequire\s*\(|import\s+.*\s+from`, 2),
		weighted(`(?i)\.js\b|javascript\b|node\.js`, 1),
		weighted("(?i)\\$\\{.*\\}|`.*`", 1),
	},
	"java": {
		weighted(`(?i)\bpublic\s+(?:static\s+)?(?:void|int|String)\s+\w+\s*\(`, 4),
		weighted(`(?i)\bclass\s+\w+\s*(?:extends\s+\w+)?\s*\{`, 3),
		weighted(`(?i)\bpublic\s+static\s+void\s+main\s*\(`, 4),
		weighted(`(?i)\bSystem\.out\.print`, 3),
		weighted(`(?i)\bimport\s+java\.`, 3),
		weighted(`(?i)\b(?:public|private|protected)\s+(?:static\s+)?(?:final\s+)?\w+`, 2),
		weighted(`(?i)\.java\b`, 1),
		weighted(`(?i)\bnew\s+\w+\s*\(`, 1),
	},
	"cpp": {
		weighted(`(?i)#include\s*<[^>]+>|#include\s*"[^"]+"`, 3),
		weighted(`(?i)\bint\s+main\s*\([^)]*\)\s*\{`, 4),
		weighted(`(?i)\bstd::|using\s+namespace\s+std`, 3),
		weighted(`(?i)\bcout\s*<<|\bcin\s*>>`, 3),
		weighted(`(?i)\b(?:public|private|protected)\s*:`, 2),
		weighted(`(?i)\bclass\s+\w+\s*(?::\s*(?:public|private|protected)\s+\w+)?\s*\{`, 2),
		weighted(`(?i)\.cpp\b|\.hpp\b|\.h\b|c\+\+`, 1),
		weighted(`(?i)\bdelete\s+\w+|\bnew\s+\w+`, 1),
	},
	"c": {
		weighted(`(?i)#include\s*<[^>]+\.h>`, 3),
		weighted(`(?i)\bint\s+main\s*\([^)]*\)\s*\{`, 3),
		weighted(`(?i)\bprintf\s*\(|\bscanf\s*\(`, 3),
		weighted(`(?i)\bmalloc\s*\(|\bfree\s*\(`, 2),
		weighted(`(?i)\bstruct\s+\w+\s*\{`, 2),
		// \b already rules out ".cpp".
		weighted(`(?i)\.c\b`, 1),
		weighted(`(?i)\btypedef\s+(?:struct\s+)?\w+`, 1),
	},
	"csharp": {
		weighted(`(?i)\busing\s+System`, 4),
		weighted(`(?i)\bnamespace\s+\w+\s*\{`, 4),
		weighted(`(?i)\bConsole\.WriteLine\s*\(`, 4),
		weighted(`(?i)\bpublic\s+(?:static\s+)?(?:void|int|string)\s+\w+\s*\(`, 2),
		weighted(`(?i)\bpublic\s+class\s+\w+`, 1),
		weighted(`(?i)\.cs\b|C#`, 2),
		weighted(`(?i)\bvar\s+\w+\s*=|\bstring\s+\w+`, 2),
		weighted(`(?i)\bConsole\.Write\s*\(|\bConsole\.Read`, 3),
	},
	"php": {
		weighted(`(?i)<\?php`, 4),
		weighted(`(?i)\$\w+\s*=`, 3),
		weighted(`(?i)\bfunction\s+\w+\s*\([^)]*\)\s*\{`, 2),
		weighted(`(?i)\becho\s+|\bprint\s+`, 2),
		weighted(`(?i)\brequire\s+|\binclude\s+`, 2),
		weighted(`(?i)\.php\b`, 1),
		weighted(`(?i)->\w+|\$this->`, 1),
	},
	"ruby": {
		weighted(`(?mi)\bdef\s+\w+(?:\([^)]*\))?\s*$`, 3),
		weighted(`(?mi)\bclass\s+\w+(?:\s*<\s*\w+)?\s*$`, 3),
		weighted(`(?mi)\bend\s*$`, 2),
		weighted(`(?i)\bputs\s+|\bp\s+`, 2),
		weighted(`(?i)\brequire\s+["']|\bgem\s+["']`, 2),
		weighted(`(?i)\.rb\b|ruby`, 1),
		weighted(`(?i)@\w+|@@\w+`, 1),
	},
	"go": {
		weighted(`(?i)\bpackage\s+\w+`, 3),
		weighted(`(?i)\bfunc\s+\w+\s*\([^)]*\)`, 3),
		weighted(`(?i)\bimport\s*\(|\bimport\s+"`, 2),
		weighted(`(?i)\bfmt\.Print|\bfmt\.Sprintf`, 3),
		weighted(`(?i):=|\bvar\s+\w+\s+\w+`, 2),
		weighted(`(?i)\.go\b|golang`, 1),
		weighted(`(?i)\bgo\s+func\s*\(`, 2),
	},
	"rust": {
		weighted(`(?i)\bfn\s+\w+\s*\([^)]*\)`, 4),
		weighted(`(?i)\buse\s+\w+::`, 3),
		weighted(`(?i)\blet\s+(?:mut\s+)?\w+\s*=`, 2),
		weighted(`(?i)\bprintln!\s*\(|\bpanic!\s*\(`, 4),
		weighted(`(?i)\bmatch\s+\w+\s*\{`, 3),
		weighted(`(?i)\.rs\b|rust`, 1),
		weighted(`(?i)\bimpl\s+\w+|\btrait\s+\w+`, 3),
		weighted(`(?i)\b(?:u8|u16|u32|u64|i8|i16|i32|i64|f32|f64|usize|isize)\b`, 2),
		weighted(`(?i)\b_\s*=>`, 3),
	},
	"swift": {
		weighted(`(?i)\bfunc\s+\w+\s*\([^)]*\)`, 3),
		weighted(`(?i)\bimport\s+(?:Foundation|UIKit|SwiftUI)`, 3),
		weighted(`(?i)\bvar\s+\w+\s*:\s*\w+|\blet\s+\w+\s*:\s*\w+`, 2),
		weighted(`(?i)\bprint\s*\(`, 2),
		weighted(`(?i)\bclass\s+\w+\s*:\s*\w+`, 2),
		weighted(`(?i)\.swift\b|swift`, 1),
		weighted(`(?i)\bguard\s+|\bdefer\s+`, 2),
	},
	"kotlin": {
		weighted(`(?i)\bfun\s+\w+\s*\([^)]*\)`, 3),
		weighted(`(?i)\bclass\s+\w+(?:\s*:\s*\w+)?\s*\{`, 2),
		weighted(`(?i)\bval\s+\w+\s*=|\bvar\s+\w+\s*=`, 2),
		weighted(`(?i)\bprintln\s*\(`, 2),
		weighted(`(?i)\bimport\s+\w+(?:\.\w+)*`, 1),
		weighted(`(?i)\.kt\b|kotlin`, 1),
		weighted(`(?i)\bwhen\s*\(|\bdata\s+class`, 2),
	},
	"sql": {
		weighted(`(?i)\bSELECT\s+.*\s+FROM\s+\w+`, 4),
		weighted(`(?i)\bINSERT\s+INTO\s+\w+`, 3),
		weighted(`(?i)\bUPDATE\s+\w+\s+SET\s+`, 3),
		weighted(`(?i)\bDELETE\s+FROM\s+\w+`, 3),
		weighted(`(?i)\bCREATE\s+TABLE\s+\w+`, 3),
		weighted(`(?i)\bJOIN\s+\w+\s+ON\s+`, 2),
		weighted(`(?i)\bWHERE\s+\w+\s*[=<>]`, 2),
		weighted(`(?i)\bGROUP\s+BY\s+|\bORDER\s+BY\s+`, 2),
	},
	"html": {
		weighted(`(?i)<!DOCTYPE\s+html>`, 4),
		weighted(`(?i)<html[^>]*>|</html>`, 3),
		weighted(`(?i)<head[^>]*>|</head>|<body[^>]*>|</body>`, 3),
		weighted(`(?i)<(?:div|span|p|h[1-6]|a|img|ul|ol|li|form|input|button|table|tr|td|th)[^>]*>`, 2),
		weighted(`(?i)<\w+[^>]*\s+(?:class|id|src|href|action|method|type|name)\s*=`, 2),
		weighted(`(?i)</(?:div|span|p|h[1-6]|a|form|button|table|tr|td|th)>`, 1),
		weighted(`(?i)\.html?\b`, 1),
	},
	"css": {
		weighted(`(?i)[.#]\w+\s*\{[^}]*(?:color|background|margin|padding|border|font|width|height)[^}]*\}`, 4),
		weighted(`(?i)\w+\s*\{\s*(?:color|background|margin|padding|border|font|width|height|display|position)`, 3),
		weighted(`(?i)@media\s+|\b@import\s+|\b@keyframes\s+`, 4),
		weighted(`(?i):\s*(?:hover|active|focus|before|after|nth-child|first-child|last-child)`, 3),
		weighted(`(?i)\.css\b`, 1),
		weighted(`(?i)(?:px|em|rem|%|vh|vw|pt)\s*[;}]`, 2),
	},
}

// tiePriority breaks equal scores before falling back to alphabetical order.
var tiePriority = []string{"sql", "html", "css"}

// Languages returns the languages with built-in detection patterns, sorted.
func Languages() []string {
	out := make([]string, 0, len(languagePatterns))
	for lang := range languagePatterns {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// LanguageScores returns the weighted pattern score of every language that
// matched at least once.
func LanguageScores(text string) map[string]int {
	scores := make(map[string]int)
	for lang, patterns := range languagePatterns {
		score := 0
		for _, p := range patterns {
			score += len(p.re.FindAllStringIndex(text, -1)) * p.weight
		}
		if score > 0 {
			scores[lang] = score
		}
	}
	return scores
}

// DetectLanguage returns the best scoring programming language, or "" when
// no language reaches the minimum score.
func DetectLanguage(text string) string {
	scores := LanguageScores(text)
	best := 0
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	if best < minLanguageScore {
		return ""
	}

	var leaders []string
	for lang, s := range scores {
		if s == best {
			leaders = append(leaders, lang)
		}
	}
	if len(leaders) == 1 {
		return leaders[0]
	}
	for _, p := range tiePriority {
		for _, lang := range leaders {
			if lang == p {
				return lang
			}
		}
	}
	sort.Strings(leaders)
	return leaders[0]
}

// CodeLanguageRule routes on the programming language of the conversation.
type CodeLanguageRule struct {
	named
	languages  map[string]router.Target
	fallback   router.Target
	classifier Classifier
}

// CodeLanguageOption configures a CodeLanguageRule.
type CodeLanguageOption func(*CodeLanguageRule)

// WithLanguageClassifier asks c about mapped languages that have no built-in
// patterns when pattern detection finds nothing mapped.
func WithLanguageClassifier(c Classifier) CodeLanguageOption {
	return func(r *CodeLanguageRule) {
		r.classifier = c
	}
}

// NewCodeLanguageRule maps language names to targets.
func NewCodeLanguageRule(name string, languages map[string]router.Target, fallback router.Target, opts ...CodeLanguageOption) (*CodeLanguageRule, error) {
	n, err := newNamed(TypeCodeLanguage, name)
	if err != nil {
		return nil, err
	}
	r := &CodeLanguageRule{named: n, languages: copyTargets(languages), fallback: fallback}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *CodeLanguageRule) Type() string { return TypeCodeLanguage }

func (r *CodeLanguageRule) Evaluate(ctx context.Context, req *schema.Request) (router.Decision, error) {
	text := req.Text()
	if text == "" {
		return r.fallback.Decide(TriggerNoContent), nil
	}

	if lang := DetectLanguage(text); lang != "" {
		if target, ok := r.languages[lang]; ok {
			return target.Decide(lang), nil
		}
	}

	if r.classifier != nil {
		if candidates := r.unpatterned(); len(candidates) > 0 {
			lang, err := r.classifier.Classify(ctx, KindCodeLanguage, text, candidates)
			if err != nil {
				return router.Decision{}, fmt.Errorf("code language detection: %w", err)
			}
			if target, ok := r.languages[lang]; ok {
				return target.Decide(lang), nil
			}
		}
	}

	return r.fallback.Decide(TriggerNoLanguageDetected), nil
}

// unpatterned returns the mapped languages without built-in patterns.
func (r *CodeLanguageRule) unpatterned() []string {
	var out []string
	for _, lang := range sortedLabels(r.languages) {
		if _, ok := languagePatterns[lang]; !ok {
			out = append(out, lang)
		}
	}
	return out
}
