// Package universe holds a Datalog database: the extensional facts, the
// rules, and the caches that let repeated queries skip fixed-point work.
//
// A Universe is not safe for concurrent use. Callers that share one across
// goroutines must serialize access; Clone gives each goroutine its own copy.
package universe

import (
	"fmt"
	"log/slog"

	"github.com/adalundhe/strata/core/datalog"
	"github.com/adalundhe/strata/core/engine"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// Universe owns the EDB and IDB. Queries expand the facts needed to answer
// them into a cache that survives until the next mutation.
type Universe struct {
	id     uuid.UUID
	base   *slog.Logger
	logger *slog.Logger

	edb      *datalog.FactSet
	idb      map[string][]*datalog.Rule
	rules    []*datalog.Rule
	ruleKeys map[string]struct{}

	// version increases on every mutation; expanded and seen are only valid
	// for the version they were built at.
	version  uint64
	expanded *datalog.FactSet
	seen     map[string]struct{}
	results  *resultCache

	engine          engine.Engine
	ownEngine       bool
	metrics         *engine.Metrics
	dedupRules      bool
	maxIterations   int
	resultCacheSize int
}

// Stats is a point-in-time summary of a Universe.
type Stats struct {
	ID                 string
	Version            uint64
	Facts              int
	Rules              int
	Signatures         int
	ExpandedSignatures int
	CachedFacts        int
	CachedResults      int
}

// New creates an empty Universe.
func New(opts ...Option) *Universe {
	u := &Universe{
		id:              uuid.New(),
		logger:          slog.Default(),
		edb:             datalog.NewFactSet(),
		idb:             make(map[string][]*datalog.Rule),
		ruleKeys:        make(map[string]struct{}),
		seen:            make(map[string]struct{}),
		dedupRules:      true,
		resultCacheSize: 128,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.base = u.logger
	u.logger = u.base.With(slog.String("universe", u.id.String()))
	if u.engine == nil {
		u.useDefaultEngine()
	}
	u.initResultCache()
	return u
}

func (u *Universe) useDefaultEngine() {
	u.engine = engine.NewSemiNaive(
		engine.WithLogger(u.logger),
		engine.WithMetrics(u.metrics),
		engine.WithMaxIterations(u.maxIterations),
	)
	u.ownEngine = true
}

func (u *Universe) initResultCache() {
	results, err := newResultCache(u.resultCacheSize)
	if err != nil {
		u.logger.Warn("result cache disabled",
			slog.Int("size", u.resultCacheSize),
			slog.String("error", err.Error()))
	}
	u.results = results
}

// ID returns the instance identifier used in logs.
func (u *Universe) ID() uuid.UUID { return u.id }

// Version returns the mutation counter.
func (u *Universe) Version() uint64 { return u.version }

// =============================================================================
// Facts
// =============================================================================

// AddFact stores a ground, non-negated literal. Adding a fact that is already
// present changes nothing.
func (u *Universe) AddFact(fact *datalog.Expr) error {
	if err := fact.ValidFact(); err != nil {
		return err
	}
	if u.edb.Add(fact) {
		u.Invalidate()
	}
	return nil
}

// AddFacts adds facts in order and stops at the first invalid one. Facts
// before it stay added.
func (u *Universe) AddFacts(facts ...*datalog.Expr) error {
	for i, f := range facts {
		if err := u.AddFact(f); err != nil {
			return fmt.Errorf("fact %d: %w", i, err)
		}
	}
	return nil
}

// Facts returns the EDB in insertion order.
func (u *Universe) Facts() []*datalog.Expr {
	return append([]*datalog.Expr(nil), u.edb.All()...)
}

// Len returns the number of EDB facts.
func (u *Universe) Len() int { return u.edb.Len() }

// Signatures returns the EDB signatures in order of first insertion.
func (u *Universe) Signatures() []string { return u.edb.Signatures() }

// SignaturePattern compiles a signature glob such as "edge/*" or "p*/2".
func SignaturePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("signature pattern %q: %w", pattern, err)
	}
	return g, nil
}

// FactsMatching returns the EDB facts whose signature matches a glob
// pattern such as "edge/*" or "p*/2".
func (u *Universe) FactsMatching(pattern string) ([]*datalog.Expr, error) {
	g, err := SignaturePattern(pattern)
	if err != nil {
		return nil, err
	}
	return u.FactsMatchingGlob(g), nil
}

// FactsMatchingGlob is FactsMatching with an already compiled pattern.
func (u *Universe) FactsMatchingGlob(g glob.Glob) []*datalog.Expr {
	var out []*datalog.Expr
	for _, sig := range u.edb.Signatures() {
		if g.Match(sig) {
			out = append(out, u.edb.BySignature(sig)...)
		}
	}
	return out
}

// =============================================================================
// Rules
// =============================================================================

// AddRule reorders the body so deferred literals come last, validates the
// rule and stores it. With rule dedup enabled, a rule equal to a stored one
// is accepted without change.
func (u *Universe) AddRule(rule *datalog.Rule) error {
	rule = rule.Reordered()
	if err := rule.Validate(); err != nil {
		return err
	}
	if u.dedupRules {
		if _, dup := u.ruleKeys[rule.Key()]; dup {
			u.logger.Debug("duplicate rule ignored", slog.String("rule", rule.String()))
			return nil
		}
	}
	u.ruleKeys[rule.Key()] = struct{}{}
	u.idb[rule.Signature()] = append(u.idb[rule.Signature()], rule)
	u.rules = append(u.rules, rule)
	u.logger.Debug("rule added", slog.String("rule", rule.String()))
	u.Invalidate()
	return nil
}

// AddRules adds rules in order and stops at the first rejected one.
func (u *Universe) AddRules(rules ...*datalog.Rule) error {
	for i, r := range rules {
		if err := u.AddRule(r); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// Rules returns the IDB keyed by head signature.
func (u *Universe) Rules() map[string][]*datalog.Rule {
	out := make(map[string][]*datalog.Rule, len(u.idb))
	for sig, rules := range u.idb {
		out[sig] = append([]*datalog.Rule(nil), rules...)
	}
	return out
}

// RulesFor returns the rules whose head has the given signature.
func (u *Universe) RulesFor(signature string) []*datalog.Rule {
	return append([]*datalog.Rule(nil), u.idb[signature]...)
}

// AllRules returns every rule in insertion order.
func (u *Universe) AllRules() []*datalog.Rule {
	return append([]*datalog.Rule(nil), u.rules...)
}

// RuleCount returns the number of stored rules.
func (u *Universe) RuleCount() int { return len(u.rules) }

// =============================================================================
// Lifecycle
// =============================================================================

// Invalidate drops every cache and bumps the version.
func (u *Universe) Invalidate() {
	u.version++
	u.expanded = nil
	u.seen = make(map[string]struct{})
	u.results.purge()
	u.logger.Debug("caches invalidated", slog.Uint64("version", u.version))
}

// Validate checks every rule for safety, the rule set for stratification
// and every fact for groundness.
func (u *Universe) Validate() error {
	for _, r := range u.rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if err := engine.NewStratifier(u.rules).Stratify(); err != nil {
		return err
	}
	for _, f := range u.edb.All() {
		if err := f.ValidFact(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an independent copy of the EDB and IDB with empty caches and
// a new ID. Facts and rules are immutable and shared.
func (u *Universe) Clone() *Universe {
	c := &Universe{
		id:              uuid.New(),
		edb:             u.edb.Clone(),
		idb:             u.Rules(),
		rules:           u.AllRules(),
		ruleKeys:        make(map[string]struct{}, len(u.ruleKeys)),
		seen:            make(map[string]struct{}),
		engine:          u.engine,
		metrics:         u.metrics,
		dedupRules:      u.dedupRules,
		maxIterations:   u.maxIterations,
		resultCacheSize: u.resultCacheSize,
	}
	for k := range u.ruleKeys {
		c.ruleKeys[k] = struct{}{}
	}
	c.base = u.base
	c.logger = u.base.With(slog.String("universe", c.id.String()))
	if u.ownEngine {
		c.useDefaultEngine()
	}
	c.initResultCache()
	c.logger.Debug("cloned", slog.String("parent", u.id.String()))
	return c
}

// Merge adds every fact and rule of other through the validating add path.
// It stops at the first rejected item.
func (u *Universe) Merge(other *Universe) error {
	if err := u.AddFacts(other.edb.All()...); err != nil {
		return fmt.Errorf("merge %s: %w", other.id, err)
	}
	if err := u.AddRules(other.rules...); err != nil {
		return fmt.Errorf("merge %s: %w", other.id, err)
	}
	return nil
}

// Stats summarizes the current state.
func (u *Universe) Stats() Stats {
	s := Stats{
		ID:                 u.id.String(),
		Version:            u.version,
		Facts:              u.edb.Len(),
		Rules:              len(u.rules),
		Signatures:         len(u.edb.Signatures()),
		ExpandedSignatures: len(u.seen),
		CachedResults:      u.results.len(),
	}
	if u.expanded != nil {
		s.CachedFacts = u.expanded.Len()
	}
	return s
}
