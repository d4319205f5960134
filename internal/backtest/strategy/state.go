package strategy

import (
	"math"

	"github.com/contactkeval/wheel-replay/internal/data"
)

//
// ==========================
// Wheel phase machine
// ==========================
//

// Phase is the side the wheel sells next. SellingPut holds no shares;
// SellingCall holds a positive share count.
type Phase int

const (
	SellingPut Phase = iota
	SellingCall
)

func (p Phase) String() string {
	if p == SellingCall {
		return "selling_call"
	}
	return "selling_put"
}

// Side maps the phase to the option side it sells.
func (p Phase) Side() data.Side {
	if p == SellingCall {
		return data.Call
	}
	return data.Put
}

// Outcome is what happened to a sold contract at maturity.
type Outcome int

const (
	// ExpiredOTM: the contract expired worthless.
	ExpiredOTM Outcome = iota
	// Unsettled: no underlying close was found on or before maturity.
	Unsettled
	// Assigned: a put was exercised, or a call took every share.
	Assigned
	// PartiallyCalled: a call was exercised but shares remain.
	PartiallyCalled
)

func (o Outcome) String() string {
	switch o {
	case Unsettled:
		return "unsettled"
	case Assigned:
		return "assigned"
	case PartiallyCalled:
		return "partially_called"
	default:
		return "expired_otm"
	}
}

type transitionKey struct {
	from    Phase
	outcome Outcome
}

var transitions = map[transitionKey]Phase{
	{SellingPut, ExpiredOTM}:       SellingPut,
	{SellingPut, Unsettled}:        SellingPut,
	{SellingPut, Assigned}:         SellingCall,
	{SellingCall, ExpiredOTM}:      SellingCall,
	{SellingCall, Unsettled}:       SellingCall,
	{SellingCall, Assigned}:        SellingPut,
	{SellingCall, PartiallyCalled}: SellingCall,
}

// Transition returns the phase after outcome. Pairs missing from the
// table keep the current phase.
func Transition(p Phase, o Outcome) Phase {
	if next, ok := transitions[transitionKey{p, o}]; ok {
		return next
	}
	return p
}

//
// ==========================
// Position state
// ==========================
//

// State is the mutable position carried between cycles. It is owned by a
// single run.
type State struct {
	Cash      float64
	Shares    int64
	MaxMargin float64
	Phase     Phase
}

// NewState starts flat with initialCash and no shares.
func NewState(initialCash float64) *State {
	return &State{Cash: initialCash, Phase: SellingPut}
}

// Side is the option side the next cycle sells.
func (s *State) Side() data.Side { return s.Phase.Side() }

// CollectPremium credits price times the contract multiplier and returns
// the amount. Selling a put also raises MaxMargin to strike times
// multiplier when that is larger.
func (s *State) CollectPremium(c OptionContract, price float64) float64 {
	premium := price * c.Multiplier
	s.Cash += premium
	if c.Side == data.Put {
		s.MaxMargin = math.Max(s.MaxMargin, c.Strike*c.Multiplier)
	}
	return premium
}

// Settle applies the contract's expiry against the settlement close and
// advances the phase. A put is assigned when settle < strike; a call when
// settle > strike. Shares never go negative.
func (s *State) Settle(c OptionContract, settle float64) Outcome {
	units := int64(math.Round(c.Multiplier))
	outcome := ExpiredOTM

	switch {
	case c.Side == data.Put && settle < c.Strike:
		s.Cash -= c.Strike * c.Multiplier
		s.Shares += units
		outcome = Assigned
	case c.Side == data.Call && settle > c.Strike:
		s.Cash += c.Strike * c.Multiplier
		s.Shares -= units
		if s.Shares < 0 {
			s.Shares = 0
		}
		outcome = PartiallyCalled
		if s.Shares == 0 {
			outcome = Assigned
		}
	}

	s.Phase = Transition(s.Phase, outcome)
	return outcome
}

// MarkUnsettled records a cycle whose settlement price was unavailable.
// The premium stays credited and the phase does not move.
func (s *State) MarkUnsettled() {
	s.Phase = Transition(s.Phase, Unsettled)
}

// HoldingValue values the shares at price.
func (s *State) HoldingValue(price float64) float64 {
	return float64(s.Shares) * price
}
