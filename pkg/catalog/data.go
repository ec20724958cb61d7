package catalog

import (
	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// Data holds the raw entries of one catalog kind.
type Data struct {
	Kind    *Kind
	Records []*record.Record
}

// NewData wraps records of the named kind.
func NewData(kind string, records []*record.Record) (*Data, error) {
	k, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	return &Data{Kind: k, Records: records}, nil
}

// Flatten returns the rows of the selected secondary level. The empty
// level selects the kind's default.
func (d *Data) Flatten(level string) ([]*record.Record, error) {
	l, err := d.Kind.Level(level)
	if err != nil {
		return nil, err
	}
	out := make([]*record.Record, 0, len(d.Records))
	for _, rec := range d.Records {
		out = append(out, Explode(drop(rec, l.Drop), l.Tree)...)
	}
	return out, nil
}

// ToDataFrame flattens d and coerces the result into a typed frame.
func (d *Data) ToDataFrame(level string, columns ...string) (*export.Frame, error) {
	rows, err := d.Flatten(level)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = nil
	}
	return export.NewFrame(rows, columns), nil
}
