// Package aggregate decides, per aggregate, which row mutations become domain events and builds them.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
)

// ErrMalformed marks records whose attributes cannot produce an event. Retrying them never helps.
var ErrMalformed = errors.New("malformed change record")

type Decision string

const (
	DecisionPublish Decision = "publish"
	DecisionIgnore  Decision = "ignore"
	DecisionUnknown Decision = "unknown"
)

type ruleKind int

const (
	ruleNever ruleKind = iota
	ruleAlways
	ruleWhenTrue
)

// Rule decides one operation of an aggregate.
type Rule struct {
	kind      ruleKind
	attribute string
}

func Always() Rule { return Rule{kind: ruleAlways} }
func Never() Rule  { return Rule{kind: ruleNever} }

// WhenTrue publishes only when the image holds attribute == true. A missing attribute ignores the
// record; a value that is not a boolean makes it malformed.
func WhenTrue(attribute string) Rule { return Rule{kind: ruleWhenTrue, attribute: attribute} }

func (r Rule) decide(image changefeed.Attributes) (Decision, error) {
	switch r.kind {
	case ruleAlways:
		return DecisionPublish, nil
	case ruleWhenTrue:
		v, ok, err := image.Bool(r.attribute)
		if err != nil {
			return DecisionIgnore, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if ok && v {
			return DecisionPublish, nil
		}
		return DecisionIgnore, nil
	default:
		return DecisionIgnore, nil
	}
}

// Policy is the publish table of one aggregate.
type Policy struct {
	Insert Rule
	Modify Rule
	Remove Rule
}

// Classify is pure: the same record and policy always give the same decision.
func Classify(p Policy, rec changefeed.ChangeRecord) (Decision, error) {
	var rule Rule
	switch rec.Operation {
	case changefeed.OpInsert:
		rule = p.Insert
	case changefeed.OpModify:
		rule = p.Modify
	case changefeed.OpRemove:
		rule = p.Remove
	default:
		return DecisionUnknown, nil
	}
	return rule.decide(rec.Image())
}
