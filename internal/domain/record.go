package domain

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// RawRecord is one externally sourced record inside an import batch. The
// concrete type is RestaurantRecord or DishRecord, selected by the job type.
type RawRecord interface {
	// RecordType returns the job type this record variant belongs to.
	RecordType() JobType
	// ExternalKey returns the record's identity inside its source.
	ExternalKey() string
	isRawRecord()
}

// RestaurantRecord is the RESTAURANT variant of RawRecord.
type RestaurantRecord struct {
	Name        string   `json:"name" validate:"notblank"`
	ExternalID  string   `json:"externalId" validate:"notblank"`
	Address     *string  `json:"address,omitempty"`
	City        *string  `json:"city,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	CuisineType *string  `json:"cuisineType,omitempty"`
	PriceRange  *string  `json:"priceRange,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Website     *string  `json:"website,omitempty"`
}

func (RestaurantRecord) RecordType() JobType   { return JobTypeRestaurant }
func (r RestaurantRecord) ExternalKey() string { return r.ExternalID }
func (RestaurantRecord) isRawRecord()          {}

// DishRecord is the DISH variant of RawRecord. RestaurantID is the external id
// of the owning restaurant in the same source.
type DishRecord struct {
	Name           string   `json:"name" validate:"notblank"`
	ExternalID     string   `json:"externalId" validate:"notblank"`
	RestaurantID   string   `json:"restaurantId" validate:"notblank"`
	RestaurantName string   `json:"restaurantName" validate:"notblank"`
	Category       *string  `json:"category,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Price          *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	IsVegetarian   *bool    `json:"isVegetarian,omitempty"`
	SpicyLevel     *int     `json:"spicyLevel,omitempty" validate:"omitempty,gte=0,lte=5"`
}

func (DishRecord) RecordType() JobType   { return JobTypeDish }
func (d DishRecord) ExternalKey() string { return d.ExternalID }
func (DishRecord) isRawRecord()          {}

// ParseRawRecord decodes one raw JSON record into the variant for jobType.
// Absent and explicit-null optional fields both decode to nil pointers, which
// the upserter treats as "no value".
func ParseRawRecord(jobType JobType, raw []byte) (RawRecord, error) {
	if !gjson.ValidBytes(raw) {
		return nil, NewValidationError("record is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, NewValidationError("record is not a JSON object")
	}

	f := &fieldReader{doc: doc}
	var rec RawRecord
	switch jobType {
	case JobTypeRestaurant:
		rec = RestaurantRecord{
			Name:        reqString(doc.Get("name")),
			ExternalID:  reqString(doc.Get("externalId")),
			Address:     optString(doc.Get("address")),
			City:        optString(doc.Get("city")),
			Latitude:    f.float64Field("latitude"),
			Longitude:   f.float64Field("longitude"),
			CuisineType: optString(doc.Get("cuisineType")),
			PriceRange:  optString(doc.Get("priceRange")),
			Phone:       optString(doc.Get("phone")),
			Website:     optString(doc.Get("website")),
		}
	case JobTypeDish:
		rec = DishRecord{
			Name:           reqString(doc.Get("name")),
			ExternalID:     reqString(doc.Get("externalId")),
			RestaurantID:   reqString(doc.Get("restaurantId")),
			RestaurantName: reqString(doc.Get("restaurantName")),
			Category:       optString(doc.Get("category")),
			Description:    optString(doc.Get("description")),
			Price:          f.float64Field("price"),
			IsVegetarian:   f.boolField("isVegetarian"),
			SpicyLevel:     f.intField("spicyLevel"),
		}
	default:
		return nil, NewValidationError("unknown job type "+string(jobType), "jobType")
	}
	if len(f.bad) > 0 {
		return nil, NewValidationError("wrong type for "+strings.Join(f.bad, ", "), f.bad...)
	}
	return rec, nil
}

// RecordIdentifier returns a label for raw used in per-item error reports:
// the external id when present, otherwise nothing.
func RecordIdentifier(raw []byte) string {
	return strings.TrimSpace(gjson.GetBytes(raw, "externalId").String())
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func reqString(r gjson.Result) string {
	if !present(r) {
		return ""
	}
	return strings.TrimSpace(r.String())
}

func optString(r gjson.Result) *string {
	if !present(r) {
		return nil
	}
	s := strings.TrimSpace(r.String())
	return &s
}

// fieldReader decodes typed optional fields and collects the names of those
// whose JSON type does not match, instead of coercing them to zero values.
type fieldReader struct {
	doc gjson.Result
	bad []string
}

func (f *fieldReader) float64Field(key string) *float64 {
	r := f.doc.Get(key)
	if !present(r) {
		return nil
	}
	if r.Type != gjson.Number {
		f.bad = append(f.bad, key)
		return nil
	}
	v := r.Float()
	return &v
}

func (f *fieldReader) intField(key string) *int {
	r := f.doc.Get(key)
	if !present(r) {
		return nil
	}
	if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) {
		f.bad = append(f.bad, key)
		return nil
	}
	v := int(r.Num)
	return &v
}

func (f *fieldReader) boolField(key string) *bool {
	r := f.doc.Get(key)
	if !present(r) {
		return nil
	}
	if r.Type != gjson.True && r.Type != gjson.False {
		f.bad = append(f.bad, key)
		return nil
	}
	v := r.Bool()
	return &v
}
