package polymarket

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether a flag is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString accepts a JSON string or number and keeps its literal text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexStringList accepts either a JSON array of strings or a string holding
// a JSON-encoded array, e.g. "[\"Yes\",\"No\"]". Gamma uses both shapes for
// outcomes and clobTokenIds.
type flexStringList []string

func (f *flexStringList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if strings.TrimSpace(encoded) == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// at returns element idx, or def when the list is too short.
func (f flexStringList) at(idx int, def string) string {
	if idx < len(f) {
		return f[idx]
	}
	return def
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID               flexString     `json:"id"`
	Question         string         `json:"question"`
	Title            string         `json:"title"`
	Slug             string         `json:"slug"`
	ConditionID      string         `json:"conditionId"`
	Outcomes         flexStringList `json:"outcomes"`
	ClobTokenIDs     flexStringList `json:"clobTokenIds"`
	NegRiskAugmented flexBool       `json:"negRiskAugmented"`
	NegRiskOther     flexBool       `json:"negRiskOther"`
	Volume           flexString     `json:"volume"`
	CreatedAt        string         `json:"createdAt"`
	ClosedTime       string         `json:"closedTime"`
	Events           []APIEvent     `json:"events"`
}

// APIEvent is the slice of an embedded Gamma event that the registry keeps.
type APIEvent struct {
	ID     flexString `json:"id"`
	Ticker string     `json:"ticker"`
}

// ToDomainMarket converts a Gamma APIMarket to a registry row. Missing
// outcomes and token ids become empty strings.
func (m *APIMarket) ToDomainMarket() domain.Market {
	question := m.Question
	if question == "" {
		question = m.Title
	}

	var ticker string
	if len(m.Events) > 0 {
		ticker = m.Events[0].Ticker
	}

	return domain.Market{
		ID:          string(m.ID),
		CreatedAt:   domain.ParseMarketTime(m.CreatedAt),
		Question:    question,
		Answer1:     m.Outcomes.at(0, ""),
		Answer2:     m.Outcomes.at(1, ""),
		NegRisk:     bool(m.NegRiskAugmented) || bool(m.NegRiskOther),
		Slug:        m.Slug,
		Token1:      m.ClobTokenIDs.at(0, ""),
		Token2:      m.ClobTokenIDs.at(1, ""),
		ConditionID: m.ConditionID,
		Volume:      string(m.Volume),
		Ticker:      ticker,
		ClosedTime:  m.ClosedTime,
	}
}
