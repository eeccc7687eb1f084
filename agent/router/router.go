// Package router classifies an inbound message into a conversational thread.
// Everything here is pure: the same inputs always produce the same result.
package router

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retail-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent/agent/state"
)

const (
	// shortReplyTokens bounds what counts as a bare yes/no answer.
	shortReplyTokens = 6
	// returnItemsShown is how many cart lines the return-to-order reminder
	// lists before summarizing the rest.
	returnItemsShown = 3
)

type Classification struct {
	Thread            contractx.Thread `json:"thread"`
	Confidence        float64          `json:"confidence"`
	Keywords          []string         `json:"keywords,omitempty"`
	ShouldInterrupt   bool             `json:"should_interrupt"`
	HandoffRequested  bool             `json:"handoff_requested"`
	SentimentNegative bool             `json:"sentiment_negative"`
	// InfoTopics lists the informational categories that matched.
	InfoTopics []string `json:"info_topics,omitempty"`
}

// Classify runs the rules in priority order; the first strong match wins.
// Handoff and frustration flags are always computed.
func Classify(message string, current statex.AgentState, thread contractx.Thread) Classification {
	if thread == "" {
		thread = contractx.ThreadOrder
	}
	t := newText(normalize(message))

	out := Classification{}
	handoff := handoffWords.matches(t)
	frustration := frustrationWords.matches(t)
	out.HandoffRequested = len(handoff) > 0
	out.SentimentNegative = len(frustration) > 0
	out.Keywords = append(out.Keywords, handoff...)
	out.Keywords = append(out.Keywords, frustration...)

	if out.HandoffRequested {
		out.Thread = contractx.ThreadHandoff
		out.Confidence = 0.95
		return out
	}

	if current == statex.StateAwaitingConfirmation {
		if hits := replyHits(t); len(hits) > 0 {
			out.Thread = contractx.ThreadOrder
			out.Confidence = 0.9
			out.Keywords = append(out.Keywords, hits...)
			return out
		}
	}

	var topics, infoHits []string
	for _, cat := range infoCategories {
		if hits := cat.words.matches(t); len(hits) > 0 {
			topics = append(topics, cat.name)
			infoHits = append(infoHits, hits...)
		}
	}
	question := strings.ContainsAny(message, "?¿")
	orderHits, orderScore := orderSignals(t)

	switch {
	case len(topics) >= 2:
		out.Thread = contractx.ThreadInfo
		out.Confidence = 0.85
		if question {
			out.Confidence = 0.9
		}
		out.ShouldInterrupt = true
		out.InfoTopics = topics
		out.Keywords = append(out.Keywords, infoHits...)
		return out
	case len(topics) == 1 && orderScore == 0:
		out.InfoTopics = topics
		out.Keywords = append(out.Keywords, infoHits...)
		if thread == contractx.ThreadOrder && current.InOrderFlow() {
			// A lone question during an order is answered inside the order.
			out.Thread = contractx.ThreadOrder
			out.Confidence = 0.55
			return out
		}
		out.Thread = contractx.ThreadInfo
		out.Confidence = 0.65
		if question {
			out.Confidence = 0.75
		}
		return out
	}

	if orderScore > 0 {
		out.Thread = contractx.ThreadOrder
		out.Confidence = min(0.95, 0.4+orderScore)
		out.Keywords = append(out.Keywords, orderHits...)
		out.InfoTopics = topics
		return out
	}

	out.Thread = thread
	if thread == contractx.ThreadHandoff {
		out.Thread = contractx.ThreadOrder
	}
	out.Confidence = 0.3
	return out
}

func orderSignals(t text) ([]string, float64) {
	var hits []string
	score := 0.0
	if qty := quantityPattern.FindAllString(t.padded, -1); len(qty) > 0 {
		hits = append(hits, "quantity")
		score += 0.35
	} else if words := quantityWords.matches(t); len(words) > 0 {
		hits = append(hits, words...)
		score += 0.25
	}
	if verbs := cartVerbs.matches(t); len(verbs) > 0 {
		hits = append(hits, verbs...)
		score += 0.3
	}
	if repeat := repeatPhrases.matches(t); len(repeat) > 0 {
		hits = append(hits, repeat...)
		score += 0.45
	}
	return hits, score
}

func replyHits(t text) []string {
	if len(t.tokens) == 0 || len(t.tokens) > shortReplyTokens {
		return nil
	}
	if neg := negateWords.matches(t); len(neg) > 0 {
		return neg
	}
	return affirmWords.matches(t)
}

// IsAffirmative reports a short yes-style answer with no negation in it.
func IsAffirmative(message string) bool {
	t := newText(normalize(message))
	if len(t.tokens) == 0 || len(t.tokens) > shortReplyTokens {
		return false
	}
	return len(negateWords.matches(t)) == 0 && len(affirmWords.matches(t)) > 0
}

// IsNegative reports a short no-style answer.
func IsNegative(message string) bool {
	t := newText(normalize(message))
	if len(t.tokens) == 0 || len(t.tokens) > shortReplyTokens {
		return false
	}
	return len(negateWords.matches(t)) > 0
}

// ShouldReturnToOrder is true when an informational message interrupted an
// order that was already in progress.
func ShouldReturnToOrder(previousThread contractx.Thread, previousState statex.AgentState, newThread contractx.Thread) bool {
	return previousThread == contractx.ThreadOrder &&
		previousState.InOrderFlow() &&
		newThread == contractx.ThreadInfo
}

// BuildReturnToOrderContext lists what is in the cart, e.g.
// "5 x Coca Cola, 3 x Fanta, 1 x Pan y 2 más". Empty carts render "".
func BuildReturnToOrderContext(cart *statex.Cart) string {
	if cart.IsEmpty() {
		return ""
	}
	items := cart.Items
	shown := items
	if len(shown) > returnItemsShown {
		shown = shown[:returnItemsShown]
	}
	parts := make([]string, 0, len(shown))
	for _, item := range shown {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		parts = append(parts, fmt.Sprintf("%d x %s", item.Quantity, name))
	}
	if rest := len(items) - len(shown); rest > 0 {
		return strings.Join(parts, ", ") + fmt.Sprintf(" y %d más", rest)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " y " + parts[len(parts)-1]
}
