//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package gate runs the ordered short-circuit checks that answer a query
// before the reasoning loop is entered. The first gate that triggers wins.
package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-rag-go/cache"
	"trpc.group/trpc-go/trpc-rag-go/internal/language"
	"trpc.group/trpc-go/trpc-rag-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-rag-go/log"
	"trpc.group/trpc-go/trpc-rag-go/memory"
)

// Gate names reported in Outcome.Gate.
const (
	GateSecurity          = "security-gate"
	GateGreeting          = "greeting-pattern"
	GateCasual            = "casual-conversation"
	GateIdentity          = "identity"
	GateClarification     = "clarification"
	GateOutOfDomainPrefix = "out-of-domain-"
	GateCache             = "cache"
)

const ambiguityThreshold = 0.6

// Input is one query plus the context the gates may consult.
type Input struct {
	Query       string
	UserID      string
	UserContext *memory.UserContext
}

// Outcome is a gate-produced answer. A nil Outcome means no gate triggered.
type Outcome struct {
	// Gate names the gate that answered, e.g. "greeting-pattern".
	Gate string
	// Answer is the complete response text.
	Answer string
	// Sources carries cached citations when the cache gate hits.
	Sources []map[string]any
	// CacheHit reports whether the answer came from the semantic cache.
	CacheHit bool
}

// AmbiguityScorer decides whether a query needs a clarifying question.
type AmbiguityScorer interface {
	// Score returns the ambiguity in [0,1], whether clarification is needed,
	// and the question to ask when it is.
	Score(ctx context.Context, query string) (score float64, needed bool, question string, err error)
}

// DomainClassifier tags queries outside the assistant's domain.
type DomainClassifier interface {
	// Classify returns false with a short reason tag (e.g. "medical") when
	// the query should be refused.
	Classify(ctx context.Context, query string) (inDomain bool, reason string, err error)
}

// Chain evaluates the gates in their fixed order.
type Chain struct {
	cache       cache.Semantic
	scorer      AmbiguityScorer
	classifier  DomainClassifier
	companyName string
}

// Option configures the Chain.
type Option func(*Chain)

// WithCache enables the semantic-cache gate.
func WithCache(c cache.Semantic) Option {
	return func(ch *Chain) { ch.cache = c }
}

// WithAmbiguityScorer enables the clarification gate.
func WithAmbiguityScorer(s AmbiguityScorer) Option {
	return func(ch *Chain) { ch.scorer = s }
}

// WithDomainClassifier enables the out-of-domain gate.
func WithDomainClassifier(d DomainClassifier) Option {
	return func(ch *Chain) { ch.classifier = d }
}

// WithCompanyName sets the company the identity gate describes.
func WithCompanyName(name string) Option {
	return func(ch *Chain) { ch.companyName = name }
}

// NewChain creates a gate chain. Gates whose collaborator is absent are
// skipped.
func NewChain(opts ...Option) *Chain {
	c := &Chain{companyName: "Bali Zero"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate runs the gates in order and returns the first triggered outcome,
// or nil when the query should proceed to the reasoning loop.
func (c *Chain) Evaluate(ctx context.Context, input Input) *Outcome {
	checks := []func(context.Context, Input) *Outcome{
		c.security,
		c.greeting,
		c.casual,
		c.identity,
		c.clarification,
		c.outOfDomain,
		c.cacheLookup,
	}
	for _, check := range checks {
		if outcome := check(ctx, input); outcome != nil {
			telemetry.GateHitCounter.Add(ctx, 1,
				metric.WithAttributes(attribute.String("gate", outcome.Gate)))
			return outcome
		}
	}
	return nil
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore\b.{0,30}\b(previous|prior|above|all)\b.{0,20}\binstructions?\b`),
	regexp.MustCompile(`(?i)\bdisregard\b.{0,30}\binstructions?\b`),
	regexp.MustCompile(`(?i)\byou are now\b`),
	regexp.MustCompile(`(?i)\bpretend (to be|you('| a)?re)\b`),
	regexp.MustCompile(`(?i)\bdeveloper mode\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)\b(reveal|show|print|repeat)\b.{0,30}\b(system prompt|your instructions)\b`),
	regexp.MustCompile(`(?i)\bact as (an?|my) (?:uncensored|unrestricted|evil)\b`),
}

var entertainmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btell me a joke\b`),
	regexp.MustCompile(`(?i)\bwrite (me )?a (poem|song|story|rap|haiku)\b`),
	regexp.MustCompile(`(?i)\b(role[- ]?play|let's play a game)\b`),
	regexp.MustCompile(`(?i)\bsing (me )?(a|the)\b`),
}

var securityRefusals = map[string]string{
	"en": "I can't help with that. I'm here for questions about visas, company setup, tax, and doing business in Indonesia.",
	"it": "Non posso aiutarti con questo. Sono qui per domande su visti, costituzione di società, tasse e business in Indonesia.",
	"id": "Maaf, saya tidak bisa membantu dengan itu. Saya di sini untuk pertanyaan tentang visa, pendirian perusahaan, pajak, dan bisnis di Indonesia.",
	"es": "No puedo ayudarte con eso. Estoy aquí para preguntas sobre visados, creación de empresas, impuestos y negocios en Indonesia.",
	"de": "Dabei kann ich nicht helfen. Ich bin für Fragen zu Visa, Firmengründung, Steuern und Geschäften in Indonesien da.",
	"fr": "Je ne peux pas vous aider avec cela. Je suis là pour les questions de visas, de création d'entreprise, de fiscalité et d'affaires en Indonésie.",
	"nl": "Daar kan ik niet mee helpen. Ik ben er voor vragen over visa, bedrijfsoprichting, belastingen en zakendoen in Indonesië.",
}

func (c *Chain) security(_ context.Context, input Input) *Outcome {
	matched := false
	for _, p := range injectionPatterns {
		if p.MatchString(input.Query) {
			matched = true
			break
		}
	}
	if !matched {
		for _, p := range entertainmentPatterns {
			if p.MatchString(input.Query) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return nil
	}
	return &Outcome{Gate: GateSecurity, Answer: localized(securityRefusals, input.Query)}
}

var greetingMatrix = map[string][]string{
	"en": {"hello", "hi", "hey", "hi there", "good morning", "good afternoon", "good evening"},
	"it": {"ciao", "salve", "buongiorno", "buonasera"},
	"id": {"halo", "hai", "selamat pagi", "selamat siang", "selamat sore", "selamat malam"},
	"es": {"hola", "buenos dias", "buenas tardes", "buenas noches"},
	"de": {"hallo", "guten morgen", "guten tag", "guten abend"},
	"fr": {"bonjour", "bonsoir", "salut", "coucou"},
	"nl": {"hallo", "hoi", "goedemorgen", "goedemiddag", "goedenavond"},
}

var greetingReplies = map[string]string{
	"en": "Hello%s! How can I help you today? I can answer questions about visas, company setup, tax, and business in Indonesia.",
	"it": "Ciao%s! Come posso aiutarti oggi? Posso rispondere a domande su visti, società, tasse e business in Indonesia.",
	"id": "Halo%s! Ada yang bisa saya bantu hari ini? Saya bisa menjawab pertanyaan tentang visa, perusahaan, pajak, dan bisnis di Indonesia.",
	"es": "¡Hola%s! ¿En qué puedo ayudarte hoy? Puedo responder preguntas sobre visados, empresas, impuestos y negocios en Indonesia.",
	"de": "Hallo%s! Wie kann ich heute helfen? Ich beantworte Fragen zu Visa, Firmengründung, Steuern und Geschäften in Indonesien.",
	"fr": "Bonjour%s ! Comment puis-je vous aider aujourd'hui ? Je réponds aux questions sur les visas, les sociétés, la fiscalité et les affaires en Indonésie.",
	"nl": "Hallo%s! Hoe kan ik je vandaag helpen? Ik beantwoord vragen over visa, bedrijven, belastingen en zakendoen in Indonesië.",
}

func (c *Chain) greeting(_ context.Context, input Input) *Outcome {
	normalized := normalize(input.Query)
	code := ""
	for lang, greetings := range greetingMatrix {
		for _, g := range greetings {
			if normalized == g {
				code = lang
				break
			}
		}
		if code != "" {
			break
		}
	}
	if code == "" {
		return nil
	}
	name := ""
	if input.UserContext != nil && input.UserContext.Profile != nil &&
		input.UserContext.Profile.Name != "" {
		name = " " + firstName(input.UserContext.Profile.Name)
	}
	return &Outcome{Gate: GateGreeting, Answer: fmt.Sprintf(greetingReplies[code], name)}
}

var casualPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\W*how (are|r) (you|u)\b`),
	regexp.MustCompile(`(?i)^\W*how('| i)?s it going\b`),
	regexp.MustCompile(`(?i)^\W*what('| i)?s up\b`),
	regexp.MustCompile(`(?i)^\W*(thanks|thank you|thx)\W*$`),
	regexp.MustCompile(`(?i)^\W*are you (there|real|a bot|an ai)\W*$`),
	regexp.MustCompile(`(?i)^\W*come stai\b`),
	regexp.MustCompile(`(?i)^\W*apa kabar\b`),
	regexp.MustCompile(`(?i)^\W*como estas\b`),
	regexp.MustCompile(`(?i)^\W*wie geht('| e)?s\b`),
	regexp.MustCompile(`(?i)^\W*(ça|ca) va\b`),
}

var domainKeywords = []string{
	"visa", "visto", "kitas", "kitap", "tax", "pajak", "npwp", "nib",
	"company", "perusahaan", "pt pma", "pma", "permit", "immigration",
	"imigrasi", "price", "cost", "fee", "berapa", "setup", "bpjs",
	"sponsor", "extension", "business", "license", "oss",
}

var visaCodePattern = regexp.MustCompile(`(?i)\b(E\d{2}[a-z]?|C\d{3}[a-z]?)\b`)

var casualReplies = map[string]string{
	"en": "All good here, thanks! Is there anything about visas, company setup, or business in Indonesia I can help with?",
	"it": "Tutto bene, grazie! Posso aiutarti con visti, società o business in Indonesia?",
	"id": "Baik, terima kasih! Ada yang bisa saya bantu soal visa, perusahaan, atau bisnis di Indonesia?",
	"es": "¡Todo bien, gracias! ¿Puedo ayudarte con visados, empresas o negocios en Indonesia?",
	"de": "Alles gut, danke! Kann ich bei Visa, Firmengründung oder Geschäften in Indonesien helfen?",
	"fr": "Tout va bien, merci ! Puis-je vous aider avec les visas, les sociétés ou les affaires en Indonésie ?",
	"nl": "Alles goed, dank je! Kan ik helpen met visa, bedrijven of zakendoen in Indonesië?",
}

// casual answers pure small talk. Anything carrying a domain keyword or visa
// code goes to retrieval instead; ambiguity resolves to not-casual.
func (c *Chain) casual(_ context.Context, input Input) *Outcome {
	lower := strings.ToLower(input.Query)
	if visaCodePattern.MatchString(input.Query) {
		return nil
	}
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	for _, p := range casualPatterns {
		if p.MatchString(input.Query) {
			return &Outcome{Gate: GateCasual, Answer: localized(casualReplies, input.Query)}
		}
	}
	return nil
}

var (
	whoAreYouPattern = regexp.MustCompile(`(?i)^\W*(who|what) are (you|u)\W*$`)
	whoAmIPattern    = regexp.MustCompile(`(?i)^\W*who am i\W*$`)
)

func (c *Chain) identity(_ context.Context, input Input) *Outcome {
	switch {
	case whoAreYouPattern.MatchString(input.Query):
		return &Outcome{
			Gate: GateIdentity,
			Answer: fmt.Sprintf("I'm the %s assistant. I answer questions about Indonesian visas, "+
				"company setup, tax, and business operations, grounded in our verified knowledge base.",
				c.companyName),
		}
	case whoAmIPattern.MatchString(input.Query):
		return &Outcome{Gate: GateIdentity, Answer: c.describeUser(input)}
	case c.companyQuestion(input.Query):
		return &Outcome{
			Gate: GateIdentity,
			Answer: fmt.Sprintf("%s helps international clients set up and run businesses in "+
				"Indonesia: visas and permits, company incorporation, tax and accounting, and "+
				"ongoing compliance.", c.companyName),
		}
	}
	return nil
}

func (c *Chain) companyQuestion(query string) bool {
	lower := strings.ToLower(query)
	if !strings.Contains(lower, strings.ToLower(c.companyName)) {
		return false
	}
	return strings.Contains(lower, "what does") || strings.Contains(lower, "what is") ||
		strings.Contains(lower, "tell me about")
}

func (c *Chain) describeUser(input Input) string {
	if input.UserContext == nil ||
		(input.UserContext.Profile == nil && len(input.UserContext.Facts) == 0) {
		return "I don't have any stored information about you yet. Tell me about yourself and I'll remember it."
	}
	var sb strings.Builder
	sb.WriteString("Here's what I know about you:\n")
	if p := input.UserContext.Profile; p != nil {
		if p.Name != "" {
			fmt.Fprintf(&sb, "- Your name is %s.\n", p.Name)
		}
		if p.Role != "" {
			fmt.Fprintf(&sb, "- Your role is %s.\n", p.Role)
		}
		if p.Department != "" {
			fmt.Fprintf(&sb, "- You work in %s.\n", p.Department)
		}
	}
	for _, fact := range input.UserContext.Facts {
		fmt.Fprintf(&sb, "- %s\n", fact.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Chain) clarification(ctx context.Context, input Input) *Outcome {
	if c.scorer == nil {
		return nil
	}
	score, needed, question, err := c.scorer.Score(ctx, input.Query)
	if err != nil {
		log.Warnf("gate: ambiguity scorer failed, skipping: %v", err)
		return nil
	}
	if score <= ambiguityThreshold || !needed {
		return nil
	}
	if question == "" {
		question = "Could you share a bit more detail about what you need, so I can give a precise answer?"
	}
	return &Outcome{Gate: GateClarification, Answer: question}
}

func (c *Chain) outOfDomain(ctx context.Context, input Input) *Outcome {
	if c.classifier == nil {
		return nil
	}
	inDomain, reason, err := c.classifier.Classify(ctx, input.Query)
	if err != nil {
		log.Warnf("gate: domain classifier failed, skipping: %v", err)
		return nil
	}
	if inDomain {
		return nil
	}
	if reason == "" {
		reason = "other"
	}
	return &Outcome{
		Gate: GateOutOfDomainPrefix + reason,
		Answer: fmt.Sprintf("That's outside what I can help with (%s). I cover Indonesian visas, "+
			"company setup, tax, and business operations; for this topic please consult a qualified "+
			"professional.", reason),
	}
}

func (c *Chain) cacheLookup(ctx context.Context, input Input) *Outcome {
	if c.cache == nil {
		return nil
	}
	entry, ok := c.cache.Get(ctx, input.Query)
	if !ok {
		return nil
	}
	return &Outcome{Gate: GateCache, Answer: entry.Answer, Sources: entry.Sources, CacheHit: true}
}

// localized picks the reply for the detected query language, English when
// detection is not confident.
func localized(replies map[string]string, query string) string {
	info := language.Detect(query)
	if info.Confident {
		if reply, ok := replies[info.Code]; ok {
			return reply
		}
	}
	return replies["en"]
}

func normalize(query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	return strings.Trim(lower, " \t.,!?¡¿")
}

func firstName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return full
}
