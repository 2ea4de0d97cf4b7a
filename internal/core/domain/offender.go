package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DisruptionMethod uint8

const (
	DisruptionMethodDidNotConfirm DisruptionMethod = iota
	DisruptionMethodDidNotSign
	DisruptionMethodDoubleSpent
	DisruptionMethodDidNotSignalReadyToSign
)

func (m DisruptionMethod) String() string {
	return []string{
		"DidNotConfirm",
		"DidNotSign",
		"DoubleSpent",
		"DidNotSignalReadyToSign",
	}[m]
}

// ReasonKind identifies a ban reason variant. Round disruptions are told
// apart by method.
type ReasonKind string

const (
	ReasonKindCheating                ReasonKind = "Cheating"
	ReasonKindDidNotConfirm           ReasonKind = "RoundDisruption.DidNotConfirm"
	ReasonKindDidNotSign              ReasonKind = "RoundDisruption.DidNotSign"
	ReasonKindDoubleSpent             ReasonKind = "RoundDisruption.DoubleSpent"
	ReasonKindDidNotSignalReadyToSign ReasonKind = "RoundDisruption.DidNotSignalReadyToSign"
	ReasonKindFailedToVerify          ReasonKind = "FailedToVerify"
	ReasonKindInherited               ReasonKind = "Inherited"
)

var AllReasonKinds = []ReasonKind{
	ReasonKindCheating,
	ReasonKindDidNotConfirm,
	ReasonKindDidNotSign,
	ReasonKindDoubleSpent,
	ReasonKindDidNotSignalReadyToSign,
	ReasonKindFailedToVerify,
	ReasonKindInherited,
}

// Reason is the closed set of causes for a ban: Cheating, RoundDisruption,
// FailedToVerify and Inherited.
type Reason interface {
	Kind() ReasonKind
	String() string
	isReason()
}

// Cheating is a protocol violation during signing, e.g. an invalid witness.
type Cheating struct {
	RoundId string
}

type RoundDisruption struct {
	RoundIds []string
	Amount   int64
	Method   DisruptionMethod
}

// FailedToVerify is issued for an invalid ownership proof.
type FailedToVerify struct {
	RoundId string
}

// Inherited bans a coin created by a transaction spending a banned coin.
type Inherited struct {
	Ancestors []Outpoint
}

func (Cheating) isReason()        {}
func (RoundDisruption) isReason() {}
func (FailedToVerify) isReason()  {}
func (Inherited) isReason()       {}

func (Cheating) Kind() ReasonKind { return ReasonKindCheating }

func (r RoundDisruption) Kind() ReasonKind {
	switch r.Method {
	case DisruptionMethodDidNotConfirm:
		return ReasonKindDidNotConfirm
	case DisruptionMethodDidNotSign:
		return ReasonKindDidNotSign
	case DisruptionMethodDoubleSpent:
		return ReasonKindDoubleSpent
	default:
		return ReasonKindDidNotSignalReadyToSign
	}
}

func (FailedToVerify) Kind() ReasonKind { return ReasonKindFailedToVerify }
func (Inherited) Kind() ReasonKind      { return ReasonKindInherited }

func (r Cheating) String() string {
	return fmt.Sprintf("cheating in round %s", r.RoundId)
}

func (r RoundDisruption) String() string {
	return fmt.Sprintf(
		"%s in rounds [%s] (%d sats)", r.Method, strings.Join(r.RoundIds, ", "), r.Amount,
	)
}

func (r FailedToVerify) String() string {
	return fmt.Sprintf("failed to verify in round %s", r.RoundId)
}

func (r Inherited) String() string {
	ancestors := make([]string, 0, len(r.Ancestors))
	for _, a := range r.Ancestors {
		ancestors = append(ancestors, a.String())
	}
	return fmt.Sprintf("inherited from [%s]", strings.Join(ancestors, ", "))
}

// BanDurations maps each reason kind to how long a ban lasts.
type BanDurations map[ReasonKind]time.Duration

var DefaultBanDurations = BanDurations{
	ReasonKindCheating:                365 * 24 * time.Hour,
	ReasonKindDidNotConfirm:           24 * time.Hour,
	ReasonKindDidNotSign:              7 * 24 * time.Hour,
	ReasonKindDoubleSpent:             30 * 24 * time.Hour,
	ReasonKindDidNotSignalReadyToSign: 24 * time.Hour,
	ReasonKindFailedToVerify:          7 * 24 * time.Hour,
	ReasonKindInherited:               24 * time.Hour,
}

func (d BanDurations) For(kind ReasonKind) time.Duration {
	if duration, ok := d[kind]; ok {
		return duration
	}
	return DefaultBanDurations[kind]
}

// Offender is one entry of the ban ledger. Entries are never mutated: a ban
// is lifted by time only.
type Offender struct {
	Id       string
	Outpoint Outpoint
	BannedAt time.Time
	Reason   Reason
}

func NewOffender(outpoint Outpoint, bannedAt time.Time, reason Reason) Offender {
	return Offender{
		Id:       uuid.New().String(),
		Outpoint: outpoint,
		BannedAt: bannedAt,
		Reason:   reason,
	}
}

func (o Offender) BannedUntil(durations BanDurations) time.Time {
	return o.BannedAt.Add(durations.For(o.Reason.Kind()))
}

func (o Offender) IsActive(now time.Time, durations BanDurations) bool {
	return !now.Before(o.BannedAt) && now.Before(o.BannedUntil(durations))
}

func (o Offender) String() string {
	return fmt.Sprintf(
		"%s banned at %s: %s", o.Outpoint, o.BannedAt.Format(time.RFC3339), o.Reason,
	)
}

type offenderJSON struct {
	Id       string          `json:"id"`
	Outpoint string          `json:"outpoint"`
	BannedAt int64           `json:"bannedAt"`
	Type     string          `json:"type"`
	Reason   json.RawMessage `json:"reason"`
}

type roundDisruptionJSON struct {
	RoundIds []string `json:"roundIds"`
	Amount   int64    `json:"amount"`
	Method   string   `json:"method"`
}

type inheritedJSON struct {
	Ancestors []string `json:"ancestors"`
}

type roundReasonJSON struct {
	RoundId string `json:"roundId"`
}

func (o Offender) MarshalJSON() ([]byte, error) {
	if o.Reason == nil {
		return nil, fmt.Errorf("missing ban reason")
	}

	var (
		reason any
		kind   string
	)
	switch r := o.Reason.(type) {
	case Cheating:
		kind, reason = "Cheating", roundReasonJSON{r.RoundId}
	case FailedToVerify:
		kind, reason = "FailedToVerify", roundReasonJSON{r.RoundId}
	case RoundDisruption:
		kind, reason = "RoundDisruption", roundDisruptionJSON{
			RoundIds: r.RoundIds, Amount: r.Amount, Method: r.Method.String(),
		}
	case Inherited:
		ancestors := make([]string, 0, len(r.Ancestors))
		for _, a := range r.Ancestors {
			ancestors = append(ancestors, a.String())
		}
		kind, reason = "Inherited", inheritedJSON{ancestors}
	default:
		return nil, fmt.Errorf("unknown ban reason %T", o.Reason)
	}

	buf, err := json.Marshal(reason)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offenderJSON{
		Id:       o.Id,
		Outpoint: o.Outpoint.String(),
		BannedAt: o.BannedAt.UnixMilli(),
		Type:     kind,
		Reason:   buf,
	})
}

func (o *Offender) UnmarshalJSON(buf []byte) error {
	var raw offenderJSON
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}

	var outpoint Outpoint
	if err := outpoint.FromString(raw.Outpoint); err != nil {
		return err
	}
	if raw.BannedAt <= 0 {
		return fmt.Errorf("missing ban timestamp")
	}

	var reason Reason
	switch raw.Type {
	case "Cheating", "FailedToVerify":
		var r roundReasonJSON
		if err := json.Unmarshal(raw.Reason, &r); err != nil {
			return err
		}
		if raw.Type == "Cheating" {
			reason = Cheating{r.RoundId}
		} else {
			reason = FailedToVerify{r.RoundId}
		}
	case "RoundDisruption":
		var r roundDisruptionJSON
		if err := json.Unmarshal(raw.Reason, &r); err != nil {
			return err
		}
		method, err := parseDisruptionMethod(r.Method)
		if err != nil {
			return err
		}
		reason = RoundDisruption{RoundIds: r.RoundIds, Amount: r.Amount, Method: method}
	case "Inherited":
		var r inheritedJSON
		if err := json.Unmarshal(raw.Reason, &r); err != nil {
			return err
		}
		ancestors := make([]Outpoint, 0, len(r.Ancestors))
		for _, a := range r.Ancestors {
			var ancestor Outpoint
			if err := ancestor.FromString(a); err != nil {
				return err
			}
			ancestors = append(ancestors, ancestor)
		}
		reason = Inherited{ancestors}
	default:
		return fmt.Errorf("unknown ban reason type %q", raw.Type)
	}

	*o = Offender{
		Id:       raw.Id,
		Outpoint: outpoint,
		BannedAt: time.UnixMilli(raw.BannedAt),
		Reason:   reason,
	}
	return nil
}

func parseDisruptionMethod(s string) (DisruptionMethod, error) {
	for _, m := range []DisruptionMethod{
		DisruptionMethodDidNotConfirm,
		DisruptionMethodDidNotSign,
		DisruptionMethodDoubleSpent,
		DisruptionMethodDidNotSignalReadyToSign,
	} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown disruption method %q", s)
}
