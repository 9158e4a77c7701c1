package instrument

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Meta is the marker interface for per-source metadata bags. The stored
// representation stays schema-less JSON; the types exist so each worker
// keeps compile-time safety over the fields it minted. Downstream consumers
// must treat every key as optional.
type Meta interface {
	MetaSource() string
}

// BaseMeta carries the fields every worker records.
type BaseMeta struct {
	Products    []string `json:"products,omitempty"`
	OriginalURL string   `json:"original_url,omitempty"`
	VerifiedURL string   `json:"verified_url,omitempty"`
}

// SetProducts stores the inferred product categories. The poller runner
// calls this through the pointer form of whatever typed bag a source
// emitted.
func (b *BaseMeta) SetProducts(products []string) {
	b.Products = products
}

type FederalRegisterMeta struct {
	BaseMeta
	DocumentNumber string   `json:"document_number,omitempty"`
	DocumentType   string   `json:"document_type,omitempty"`
	Agencies       []string `json:"agencies,omitempty"`
	SearchTerm     string   `json:"search_term,omitempty"`
}

func (FederalRegisterMeta) MetaSource() string { return SourceFederalRegister }

type CongressMeta struct {
	BaseMeta
	Congress     int    `json:"congress,omitempty"`
	BillType     string `json:"bill_type,omitempty"`
	BillNumber   string `json:"bill_number,omitempty"`
	LatestAction string `json:"latest_action,omitempty"`
}

func (CongressMeta) MetaSource() string { return SourceCongress }

type StateRegulationMeta struct {
	BaseMeta
	State      string `json:"state,omitempty"`
	Agency     string `json:"agency,omitempty"`
	RuleNumber string `json:"rule_number,omitempty"`
	Register   string `json:"register,omitempty"`
}

func (StateRegulationMeta) MetaSource() string { return SourceStateRegulations }

type RegistryBulletinMeta struct {
	BaseMeta
	State        string `json:"state,omitempty"`
	Program      string `json:"program,omitempty"`
	BulletinType string `json:"bulletin_type,omitempty"`
}

func (RegistryBulletinMeta) MetaSource() string { return SourceCannabisRegistry }

// AdvisoryMeta covers the FDA advisory feeds (kratom and kava share the
// upstream shape but run as distinct workers).
type AdvisoryMeta struct {
	BaseMeta
	Substance    string `json:"substance,omitempty"`
	AdvisoryType string `json:"advisory_type,omitempty"`
	AlertNumber  string `json:"alert_number,omitempty"`
}

func (m AdvisoryMeta) MetaSource() string {
	if m.Substance == "kava" {
		return SourceKava
	}
	return SourceKratom
}

type CaseLawMeta struct {
	BaseMeta
	Court      string `json:"court,omitempty"`
	DocketID   string `json:"docket_id,omitempty"`
	DateFiled  string `json:"date_filed,omitempty"`
	SearchTerm string `json:"search_term,omitempty"`
}

func (CaseLawMeta) MetaSource() string { return SourceCaseLaw }

type LegislatureMeta struct {
	BaseMeta
	State      string `json:"state,omitempty"`
	Session    string `json:"session,omitempty"`
	BillNumber string `json:"bill_number,omitempty"`
	Chamber    string `json:"chamber,omitempty"`
}

func (LegislatureMeta) MetaSource() string { return SourceStateLegislature }

// EncodeMeta serializes a typed bag into the stored JSON column.
func EncodeMeta(m Meta) (datatypes.JSON, error) {
	if m == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
