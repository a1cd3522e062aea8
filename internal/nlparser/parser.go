// Package nlparser implements a deterministic, bilingual (Japanese-primary,
// English-secondary) pattern+slot pipeline that turns command text into a
// structured Intent, with an optional LLM fallback for text the pattern
// table can't place.
package nlparser

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/dronefleet/fleetctl/internal/domain"
)

// maxCommandLength bounds input size to 1000 UTF-8 characters.
const maxCommandLength = 1000

// Fallback is the optional LLM-assisted collaborator consulted only when no
// pattern category matches at all — never used to override a pattern hit,
// so parsing stays deterministic whenever the pattern table covers the
// input.
type Fallback interface {
	Interpret(ctx context.Context, command string) (domain.Intent, error)
}

// Parser is pure and deterministic given the same context snapshot — the
// only mutable piece is the caller-supplied SessionContext.
type Parser struct {
	categories []category
	fallback   Fallback
}

func New(fallback Fallback) *Parser {
	return &Parser{categories: defaultCategories, fallback: fallback}
}

// Parse runs the full pipeline against command, using and updating session
// for context memory.
func (p *Parser) Parse(ctx context.Context, command string, session *SessionContext) (domain.Intent, error) {
	if utf8.RuneCountInString(command) > maxCommandLength {
		return domain.Intent{}, domain.NewValidationError(domain.CodeOutOfRange, "command text too long",
			fmt.Sprintf("%d runes exceeds the %d limit", utf8.RuneCountInString(command), maxCommandLength))
	}
	if banned, hit := containsBannedPattern(command); hit {
		return domain.Intent{}, domain.NewSecurityError(domain.CodeForbiddenPattern, "command contains a forbidden pattern", banned)
	}

	matches := p.matchCategories(command)
	if len(matches) == 0 {
		if p.fallback != nil {
			intent, err := p.fallback.Interpret(ctx, command)
			if err == nil {
				intent.Source = domain.SourceNLFallback
				intent.RawText = command
				p.applyContext(&intent, session)
				session.remember(intent)
				return intent, nil
			}
		}
		return domain.Intent{}, domain.NewValidationError(domain.CodeInvalidParameter, "command did not match any known pattern", command)
	}

	primary := matches[0]
	intent := p.buildIntent(primary, command)
	intent.Source = domain.SourceNLPattern

	for i := 1; i < len(matches) && len(intent.Alternatives) < 2; i++ {
		if matches[i].confidence <= 0.4 {
			continue
		}
		alt := p.buildIntent(matches[i], command)
		intent.Alternatives = append(intent.Alternatives, domain.Alternative{
			Action:     alt.Action,
			Parameters: alt.Parameters,
			Confidence: matches[i].confidence,
		})
	}

	p.applyContext(&intent, session)
	session.remember(intent)
	return intent, nil
}

type categoryMatch struct {
	cat        category
	confidence float64
}

// matchCategories returns every category with at least one pattern hit,
// ordered by confidence descending.
func (p *Parser) matchCategories(command string) []categoryMatch {
	var out []categoryMatch
	for _, cat := range p.categories {
		hit := false
		for _, pattern := range cat.patterns {
			if pattern.MatchString(command) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		slots := extractSlotsFor(cat.action, command)
		ratio := slotFillRatio(cat.requiredSlots, slots)
		out = append(out, categoryMatch{cat: cat, confidence: cat.weight * ratio})
	}
	// Stable sort by confidence descending; Go's sort is not imported here
	// to keep this file's surface small — simple insertion sort is fine at
	// this table's size (a dozen categories at most match any one string).
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].confidence < out[j].confidence {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func slotFillRatio(required []string, filled map[string]float64) float64 {
	if len(required) == 0 {
		return 1.0
	}
	have := 0
	for _, slot := range required {
		if _, ok := filled[slot]; ok {
			have++
		}
	}
	return float64(have) / float64(len(required))
}

// extractSlotsFor runs the slot extractors relevant to action and returns a
// partial parameter map.
func extractSlotsFor(action domainAction, command string) map[string]float64 {
	params := make(map[string]float64)
	switch action {
	case actMove:
		if dir, ok := extractDirection(command); ok {
			params["direction"] = float64(dir)
		}
		if dist, ok := extractDistance(command); ok {
			params["distance"] = dist
		}
		if speed, ok := extractSpeed(command); ok {
			params["speed"] = speed
		}
	case actRotate:
		if dir, ok := extractRotationDirection(command); ok {
			params["direction"] = float64(dir)
		}
		if angle, ok := extractAngle(command); ok {
			params["angle"] = angle
		}
	case actAltitude:
		if target, ok := extractDistance(command); ok {
			params["target"] = target
		}
	}
	return params
}

func (p *Parser) buildIntent(m categoryMatch, command string) domain.Intent {
	params := extractSlotsFor(m.cat.action, command)
	var missing []string
	for _, slot := range m.cat.requiredSlots {
		if _, ok := params[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	confidence := m.confidence
	if len(missing) > 0 {
		confidence /= 2 // missing required slots halve confidence
	}
	return domain.Intent{
		Action:       domain.Action(m.cat.action),
		Parameters:   params,
		Confidence:   confidence,
		MissingSlots: missing,
		RawText:      command,
	}
}

// applyContext inherits a missing target drone and ambient altitude from
// session history.
func (p *Parser) applyContext(intent *domain.Intent, session *SessionContext) {
	if session == nil {
		return
	}
	if intent.TargetDrone == "" {
		if id, ok := session.lastTargetDrone(); ok {
			intent.TargetDrone = id
		}
	}
	if intent.Action == domain.ActionMove {
		if _, hasDistance := intent.Parameters["distance"]; !hasDistance {
			if alt, ok := session.lastAltitude(); ok {
				if intent.Parameters == nil {
					intent.Parameters = map[string]float64{}
				}
				intent.Parameters["ambient_altitude"] = alt
			}
		}
	}
}
