// Package catalog flattens nested catalog responses into rectangular rows.
//
// Catalog entries are hierarchical: an asset lists its metrics, each metric
// lists its frequencies, an order book market lists its depths. A Tree
// describes how to unnest one such shape as a sequence of Steps, and each
// catalog entity Kind registers one Tree per secondary level it supports.
//
// Example:
//
//	data, err := catalog.NewData("assets", records)
//	if err != nil {
//	    return err
//	}
//	frame, err := data.ToDataFrame("metrics")
//
// An entry whose nested list is empty or absent still yields one row, with
// the lifted columns set to null.
package catalog
