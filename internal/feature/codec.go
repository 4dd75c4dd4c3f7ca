// Package feature implements the deterministic transform from raw tabular
// rows to the fixed-width numeric vectors the autoencoder was trained on.
// The schema (column names, scaler parameters, category lists) is frozen at
// training time and shipped inside the model bundle.
package feature

import (
	"fmt"
	"strconv"

	"anomaly-backend/internal/apperr"
)

// Feature kinds supported by the frozen schema.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
)

// Feature is one column of the frozen schema.
type Feature struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	// Standard scaler parameters, numeric features only.
	Mean float64 `json:"mean,omitempty"`
	Std  float64 `json:"std,omitempty"`

	// Frozen category list, categorical features only. Encoded one-hot in
	// this order; a value outside the list encodes to all zeros.
	Categories []string `json:"categories,omitempty"`
}

// width returns the number of encoded dimensions this feature occupies.
func (f *Feature) width() int {
	if f.Kind == KindCategorical {
		return len(f.Categories)
	}
	return 1
}

// Codec encodes raw rows against the frozen schema.
type Codec struct {
	Features []Feature `json:"features"`
}

// Width returns the encoded vector width.
func (c *Codec) Width() int {
	w := 0
	for i := range c.Features {
		w += c.Features[i].width()
	}
	return w
}

// Span is the half-open range of encoded dimensions belonging to one feature.
type Span struct {
	Start int
	End   int
}

// Spans maps each schema feature to its encoded dimensions, in schema order.
// Used to fold per-dimension reconstruction errors back onto features.
func (c *Codec) Spans() []Span {
	spans := make([]Span, len(c.Features))
	offset := 0
	for i := range c.Features {
		w := c.Features[i].width()
		spans[i] = Span{Start: offset, End: offset + w}
		offset += w
	}
	return spans
}

// Align maps the schema's feature order onto the columns of the given header.
// The column set must match the schema exactly: a missing or extra column
// means the frozen model is invalid for this dataset, so the whole batch is
// rejected with a schema-mismatch error rather than coerced.
func (c *Codec) Align(header []string) ([]int, error) {
	byName := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := byName[col]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", apperr.ErrSchemaMismatch, col)
		}
		byName[col] = i
	}

	if len(header) != len(c.Features) {
		return nil, fmt.Errorf("%w: dataset has %d columns, model expects %d",
			apperr.ErrSchemaMismatch, len(header), len(c.Features))
	}

	align := make([]int, len(c.Features))
	for i := range c.Features {
		idx, ok := byName[c.Features[i].Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", apperr.ErrSchemaMismatch, c.Features[i].Name)
		}
		align[i] = idx
	}
	return align, nil
}

// EncodeRow encodes one raw row into the feature vector using a column
// alignment produced by Align. A numeric cell that cannot be parsed is a
// schema mismatch: the model's notion of the column does not hold for this
// dataset.
func (c *Codec) EncodeRow(align []int, row []string) ([]float64, error) {
	if len(row) != len(c.Features) {
		return nil, fmt.Errorf("%w: row has %d cells, expected %d",
			apperr.ErrSchemaMismatch, len(row), len(c.Features))
	}

	vec := make([]float64, 0, c.Width())
	for i := range c.Features {
		f := &c.Features[i]
		cell := row[align[i]]

		switch f.Kind {
		case KindNumeric:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q value %q is not numeric",
					apperr.ErrSchemaMismatch, f.Name, cell)
			}
			std := f.Std
			if std == 0 {
				std = 1
			}
			vec = append(vec, (v-f.Mean)/std)
		case KindCategorical:
			oneHot := make([]float64, len(f.Categories))
			for j, cat := range f.Categories {
				if cell == cat {
					oneHot[j] = 1
					break
				}
			}
			vec = append(vec, oneHot...)
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown kind %q",
				apperr.ErrSchemaMismatch, f.Name, f.Kind)
		}
	}
	return vec, nil
}

// Validate checks the schema for internal consistency.
func (c *Codec) Validate() error {
	if len(c.Features) == 0 {
		return fmt.Errorf("schema has no features")
	}
	seen := make(map[string]bool, len(c.Features))
	for i := range c.Features {
		f := &c.Features[i]
		if f.Name == "" {
			return fmt.Errorf("feature %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case KindNumeric:
		case KindCategorical:
			if len(f.Categories) == 0 {
				return fmt.Errorf("categorical feature %q has no categories", f.Name)
			}
		default:
			return fmt.Errorf("feature %q has unknown kind %q", f.Name, f.Kind)
		}
	}
	return nil
}
