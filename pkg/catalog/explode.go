package catalog

import (
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// Step explodes one list column into one row per element.
type Step struct {
	// Column is the list column to explode. It is removed from the output
	// and the lifted columns take its position.
	Column string

	// Lift names keys copied from each object element into the row. A key
	// missing from the element, or an empty list, yields null.
	Lift []string

	// Rest also lifts every other key of object elements, after Lift.
	Rest bool

	// As names the column holding scalar elements. Defaults to Column.
	As string

	// Under names a column lifted by an earlier step. When it is null the
	// row had no parent element, so Column is dropped and nothing is
	// lifted.
	Under string
}

func (s Step) scalarColumn() string {
	if s.As != "" {
		return s.As
	}
	return s.Column
}

// Tree is an ordered sequence of explosion steps. Later steps usually
// explode a column lifted by an earlier one, e.g. metrics then frequencies.
type Tree []Step

// Explode applies t to rec and returns the resulting rows. rec is not
// modified.
func Explode(rec *record.Record, t Tree) []*record.Record {
	rows := []*record.Record{rec}
	for _, step := range t {
		next := make([]*record.Record, 0, len(rows))
		for _, row := range rows {
			next = append(next, explodeStep(row, step)...)
		}
		rows = next
	}
	return rows
}

// ExplodeAll applies t to every record, keeping input order.
func ExplodeAll(records []*record.Record, t Tree) []*record.Record {
	var out []*record.Record
	for _, rec := range records {
		out = append(out, Explode(rec, t)...)
	}
	return out
}

func explodeStep(row *record.Record, s Step) []*record.Record {
	if s.Under != "" && row.Value(s.Under).IsNull() {
		return []*record.Record{drop(row, []string{s.Column})}
	}
	items := row.Value(s.Column).Items()
	if len(items) == 0 {
		return []*record.Record{splice(row, s.Column, emptyLift(s))}
	}

	out := make([]*record.Record, 0, len(items))
	for _, item := range items {
		out = append(out, splice(row, s.Column, lift(item, s)))
	}
	return out
}

// emptyLift is the lifted part of the single row kept for an empty list.
func emptyLift(s Step) *record.Record {
	lifted := record.New()
	if len(s.Lift) == 0 {
		lifted.Set(s.scalarColumn(), record.Null())
	}
	for _, k := range s.Lift {
		lifted.Set(k, record.Null())
	}
	return lifted
}

func lift(item record.Value, s Step) *record.Record {
	if item.IsNull() {
		return emptyLift(s)
	}
	lifted := record.New()
	obj := item.Record()
	if obj == nil {
		lifted.Set(s.scalarColumn(), item)
		for _, k := range s.Lift {
			if k != s.scalarColumn() {
				lifted.Set(k, record.Null())
			}
		}
		return lifted
	}

	for _, k := range s.Lift {
		lifted.Set(k, obj.Value(k))
	}
	if s.Rest {
		for _, k := range obj.Keys() {
			if !lifted.Has(k) {
				lifted.Set(k, obj.Value(k))
			}
		}
	}
	return lifted
}

// splice returns a copy of row with column replaced by the lifted columns.
// When column is absent the lifted columns are appended. A lifted key that
// already exists in row overwrites it in place.
func splice(row *record.Record, column string, lifted *record.Record) *record.Record {
	out := record.New()
	placed := false
	for _, k := range row.Keys() {
		if k == column {
			for _, lk := range lifted.Keys() {
				out.Set(lk, lifted.Value(lk))
			}
			placed = true
			continue
		}
		if placed && lifted.Has(k) {
			continue
		}
		if lifted.Has(k) {
			out.Set(k, lifted.Value(k))
			continue
		}
		out.Set(k, row.Value(k))
	}
	if !placed {
		for _, lk := range lifted.Keys() {
			out.Set(lk, lifted.Value(lk))
		}
	}
	return out
}

// drop returns a copy of rec without the named columns.
func drop(rec *record.Record, columns []string) *record.Record {
	if len(columns) == 0 {
		return rec
	}
	out := rec.Clone()
	for _, c := range columns {
		out.Delete(c)
	}
	return out
}
