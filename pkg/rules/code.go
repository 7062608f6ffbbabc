package rules

import (
	"context"
	"regexp"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

var codePatterns = compileAll(
	// definitions and calls
	`(?i)\b(?:def|function|func|fn)\s+\w+\s*\(`,
	`(?i)\w+\s*\([^)]*\)\s*\{`,
	`(?i)\w+\([^)]*\)\s*:`,

	// control flow
	`(?i)\b(?:if|else|elif|while|for|switch|case|try|catch|finally|with)\s*\(`,
	`(?i)\b(?:if|else|elif|while|for|switch|case|try|catch|finally|with)\s+`,

	// declarations and assignments
	`(?i)\b(?:var|let|const|int|string|bool|float|double|char|long|short)\s+\w+`,
	`(?i)\w+\s*=\s*(?:new\s+)?\w+\(`,
	`(?i)\w+\s*:\s*\w+\s*=`,

	// types
	`(?i)\b(?:class|struct|interface|enum|type)\s+\w+`,
	`(?i)\b(?:public|private|protected|static|final|abstract)\s+`,

	// imports
	`(?i)\b(?:import|from|include|require|using|#include)\s+`,
	`(?i)from\s+\w+\s+import`,

	// operators
	`[=!<>]=|[+\-*/%]=|\+\+|--|&&|\|\||<<|>>`,
	`=>|->|\.\.\.|::`,

	// blocks
	`(?m)\{\s*$`,
	`(?m)^\s*\}`,
	`(?m)^\s*\w+\s*\([^)]*\)\s*\{`,

	`(?i)\breturn\s+(?:\w+|["'].*["']|null|true|false|None|\d+)`,
	`(?i)\bprint\s*\(|console\.log\s*\(|System\.out\.print`,
	`(?i)\bthrow\s+new\s+\w+|raise\s+\w+`,

	// SQL
	`(?i)\bSELECT\s+.*\s+FROM\s+\w+`,
	`(?i)\bINSERT\s+INTO\s+\w+`,
	`(?i)\bUPDATE\s+\w+\s+SET\s+`,
	`(?i)\bDELETE\s+FROM\s+\w+`,
	`(?i)\bCREATE\s+TABLE\s+\w+`,
	`(?i)\b(?:SELECT|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|FROM|WHERE|JOIN|GROUP BY|ORDER BY)\b`,

	// markup
	`</?[a-zA-Z][^>]*>`,
	`<\w+[^>]*/>`,

	// JSON
	`\{\s*["']?\w+["']?\s*:\s*["']?[^,}]+["']?`,

	// shell
	`(?m)^\s*[$#]\s+\w+`,
	`(?i)\b(?:cd|ls|mkdir|rm|cp|mv|grep|awk|sed|curl|wget|git|npm|pip|docker)\s+`,

	// config files
	`(?m)^\s*\w+\s*=\s*["']?[^"'\n]+["']?$`,
	`(?m)^\s*\[\w+\]`,

	// comments
	`(?ms)//.*$|/\*.*?\*/|#.*$|<!--.*?-->`,

	// indentation
	`(?m)^\s{4,}\w+|^\t+\w+`,

	// errors and stack traces
	`(?i)\b(?:Error|Exception|Traceback|at\s+\w+\.\w+)`,
	`(?i)File\s+"[^"]+",\s+line\s+\d+`,

	// version control and package managers
	`(?i)\b(?:commit|branch|merge|pull|push|clone)\s+\w+`,
	`(?i)\b(?:npm\s+install|pip\s+install|composer\s+install|gem\s+install)`,
)

var prosePatterns = compileAll(
	`(?i)\b(?:the|and|or|but|however|therefore|because|although|while|during|after|before|since|until|unless|if|when|where|why|how|what|who|which|that|this|these|those|some|many|few|several|all|most|each|every|any|no|none|both|either|neither)\b`,
	`(?i)\?.*(?:how|what|why|when|where|who|which|can|could|would|should|will|do|does|did|is|are|was|were)`,
	`(?i)(?:how|what|why|when|where|who|which|can|could|would|should|will|do|does|did|is|are|was|were).*\?`,
	`(?i)\b(?:please|thank|thanks|hello|hi|hey|goodbye|bye|sorry|excuse|help|assist|explain|describe|tell|show|give|provide)\b`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// ContainsCode reports whether text reads as source code rather than prose.
func ContainsCode(text string) bool {
	code := countMatches(codePatterns, text)
	if code == 0 {
		return false
	}
	if code >= 4 {
		return true
	}

	prose := countMatches(prosePatterns, text)
	if prose >= 5 && code < 3 {
		return false
	}
	if prose == 0 {
		return code >= 2
	}
	ratio := float64(code) / float64(code+prose)
	return ratio >= 0.5 && code >= 2
}

// CodeRule routes on whether the conversation contains code.
type CodeRule struct {
	named
	code    router.Target
	notCode router.Target
}

// NewCodeRule creates a rule choosing code when code is detected and notCode
// otherwise.
func NewCodeRule(name string, code, notCode router.Target) (*CodeRule, error) {
	n, err := newNamed(TypeCode, name)
	if err != nil {
		return nil, err
	}
	return &CodeRule{named: n, code: code, notCode: notCode}, nil
}

func (r *CodeRule) Type() string { return TypeCode }

func (r *CodeRule) Evaluate(_ context.Context, req *schema.Request) (router.Decision, error) {
	text := req.Text()
	if text == "" {
		return r.notCode.Decide(TriggerNoContent), nil
	}
	if ContainsCode(text) {
		return r.code.Decide(TriggerCodeDetected), nil
	}
	return r.notCode.Decide(TriggerNoCodeDetected), nil
}
