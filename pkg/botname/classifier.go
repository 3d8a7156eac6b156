// Package botname classifies account names that look like bots.
//
// A Classifier owns its result cache; there is no process-wide state, and a
// classifier is safe for concurrent use by every partition worker.
package botname

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"
)

// DefaultPattern matches names containing "bot" as a word ending, such as
// "ClueBot NG" or "Some_bot".
const DefaultPattern = `(?i)^.*bot([^a-z].*$|$)`

// DefaultCacheSize is the LRU capacity used when Config.CacheSize is zero.
const DefaultCacheSize = 10000

// Config configures a Classifier.
type Config struct {
	// Patterns are regular expressions; a match on any of them classifies
	// the name as a bot. Empty means DefaultPattern.
	Patterns []string `yaml:"patterns"`
	// Rule is an optional CEL boolean expression over the string variable
	// `name`, OR-ed with the patterns.
	Rule string `yaml:"rule"`
	// CacheSize bounds the LRU of classification results.
	CacheSize int `yaml:"cache_size"`
}

// Classifier decides whether a name looks like a bot account. Results are
// memoized in a fixed-capacity LRU cache; the least recently used entry is
// evicted when the cache is full.
type Classifier struct {
	patterns []*regexp.Regexp
	rule     cel.Program
	cache    *lru.Cache[string, bool]
	logger   *slog.Logger

	// evalWarned is set once the first rule evaluation error is logged.
	evalWarned sync.Once
}

// New builds a Classifier from cfg.
func New(cfg Config) (*Classifier, error) {
	sources := cfg.Patterns
	if len(sources) == 0 {
		sources = []string{DefaultPattern}
	}

	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("botname: compile pattern %q: %w", src, err)
		}
		patterns = append(patterns, re)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("botname: create cache: %w", err)
	}

	c := &Classifier{
		patterns: patterns,
		cache:    cache,
		logger:   slog.Default().With("component", "botname"),
	}
	if cfg.Rule != "" {
		prg, err := compileRule(cfg.Rule)
		if err != nil {
			return nil, err
		}
		c.rule = prg
	}
	return c, nil
}

// WithLogger overrides the classifier logger.
func (c *Classifier) WithLogger(logger *slog.Logger) *Classifier {
	c.logger = logger
	return c
}

func compileRule(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("name", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("botname: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("botname: compile rule: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("botname: rule must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("botname: program rule: %w", err)
	}
	return prg, nil
}

// IsBotByName reports whether name looks like a bot account name.
func (c *Classifier) IsBotByName(name string) bool {
	name = Normalize(name)
	if name == "" {
		return false
	}
	if v, ok := c.cache.Get(name); ok {
		return v
	}
	v := c.classify(name)
	c.cache.Add(name, v)
	return v
}

func (c *Classifier) classify(name string) bool {
	for _, re := range c.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	if c.rule == nil {
		return false
	}
	out, _, err := c.rule.Eval(map[string]any{"name": name})
	if err != nil {
		// A failed evaluation counts as no match and is cached like one.
		c.evalWarned.Do(func() {
			c.logger.Warn("bot name rule evaluation failed; treating as no match",
				"name", name, "error", err)
		})
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}

// Len returns the number of cached classifications.
func (c *Classifier) Len() int {
	return c.cache.Len()
}

// Normalize puts a name in NFC form and replaces underscores with spaces,
// the way titles are displayed.
func Normalize(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(norm.NFC.String(name), "_", " "))
}
