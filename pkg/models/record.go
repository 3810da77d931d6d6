package models

// FieldNames lists the structured fields extracted from a CV, in output order.
var FieldNames = []string{
	"name",
	"age",
	"email",
	"phone",
	"address",
	"education",
	"experience",
	"skills",
}

// Columns is the header row for CSV/Excel output.
var Columns = []string{
	"source",
	"name",
	"age",
	"email",
	"phone",
	"address",
	"education",
	"experience",
	"skills",
}

// StructuredRecord is one processed CV. Source is always populated; every
// other field defaults to the empty string so the output table stays
// rectangular.
type StructuredRecord struct {
	Source     string `db:"source"`
	SentTime   string `db:"sent_time"` // ISO-8601, "" when unknown
	Name       string `db:"name"`
	Age        string `db:"age"`
	Email      string `db:"email"`
	Phone      string `db:"phone"`
	Address    string `db:"address"`
	Education  string `db:"education"`
	Experience string `db:"experience"`
	Skills     string `db:"skills"`
}

// NewRecord builds a record for the given source file from an extracted
// field mapping. Missing keys become empty strings.
func NewRecord(source, sentTime string, fields map[string]string) StructuredRecord {
	return StructuredRecord{
		Source:     source,
		SentTime:   sentTime,
		Name:       fields["name"],
		Age:        fields["age"],
		Email:      fields["email"],
		Phone:      fields["phone"],
		Address:    fields["address"],
		Education:  fields["education"],
		Experience: fields["experience"],
		Skills:     fields["skills"],
	}
}

// Row returns the record's values in Columns order.
func (r StructuredRecord) Row() []string {
	return []string{
		r.Source,
		r.Name,
		r.Age,
		r.Email,
		r.Phone,
		r.Address,
		r.Education,
		r.Experience,
		r.Skills,
	}
}
