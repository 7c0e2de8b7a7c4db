package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Intent kinds the builtin catalog serves. The classifier produces these and
// the catalog endpoint groups operations by them.
const (
	IntentExtractColumns = "extract_columns"
	IntentConvertFormat  = "convert_format"
	IntentNormalizeData  = "normalize_data"
	IntentGenerateSQL    = "generate_sql"
	IntentGenerateJSON   = "generate_json"
	IntentSearchFilter   = "search_filter"
	IntentBindData       = "bind_data"
	IntentMapColumns     = "map_columns"
)

// Builtin returns the full builtin operation catalog. All handlers operate on
// CSV input tables.
func Builtin() []*Operation {
	return []*Operation{
		{
			ID:         "excel/extract-columns-to-file",
			Intent:     IntentExtractColumns,
			Suffix:     "extracted",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"columns":           {Type: ArgStringList, Required: true},
				"remove_duplicates": {Type: ArgBool, Default: false},
			},
			Handler: extractColumns,
		},
		{
			ID:         "excel/convert-format-to-file",
			Intent:     IntentConvertFormat,
			Suffix:     "converted",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"target_format": {Type: ArgString, Required: true},
			},
			Handler: convertFormat,
		},
		{
			ID:         "normalization/apply",
			Intent:     IntentNormalizeData,
			Suffix:     "normalized",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"trim_whitespace":   {Type: ArgBool, Default: true},
				"lowercase_headers": {Type: ArgBool, Default: true},
				"drop_empty_rows":   {Type: ArgBool, Default: true},
			},
			Handler: normalizeData,
		},
		{
			ID:         "sql/generate-to-text",
			Intent:     IntentGenerateSQL,
			Suffix:     "inserts",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"table_name": {Type: ArgString, Default: "data"},
			},
			Handler: generateSQL,
		},
		{
			ID:         "json/generate-to-file",
			Intent:     IntentGenerateJSON,
			Suffix:     "records",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args:       map[string]ArgField{},
			Handler:    generateJSON,
		},
		{
			ID:         "search/filter-to-file",
			Intent:     IntentSearchFilter,
			Suffix:     "filtered",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"column": {Type: ArgString, Required: true},
				"value":  {Type: ArgString, Required: true},
				"exact":  {Type: ArgBool, Default: false},
			},
			Handler: searchFilter,
		},
		{
			ID:         "binding/merge-by-key",
			Intent:     IntentBindData,
			Suffix:     "bound",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"key_column": {Type: ArgString, Required: true},
				"separator":  {Type: ArgString, Default: ";"},
			},
			Handler: bindByKey,
		},
		{
			ID:         "mapping/rename-columns",
			Intent:     IntentMapColumns,
			Suffix:     "mapped",
			InputKind:  InputTable,
			OutputKind: OutputFile,
			Args: map[string]ArgField{
				"mapping": {Type: ArgStringMap, Required: true},
			},
			Handler: renameColumns,
		},
	}
}

func extractColumns(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	columns := ListArg(args, "columns")
	dedupe := BoolArg(args, "remove_duplicates")

	indices := make([]int, 0, len(columns))
	header := make([]string, 0, len(columns))
	for _, name := range columns {
		idx, err := t.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
		header = append(header, t.Header[idx])
	}
	progress(20, "columns resolved")

	out := &Table{Header: header}
	seen := map[string]bool{}
	for i, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		projected := make([]string, len(indices))
		for j, idx := range indices {
			projected[j] = cell(row, idx)
		}
		if dedupe {
			key := strings.Join(projected, "\x1f")
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out.Rows = append(out.Rows, projected)
		if len(t.Rows) > 0 && i%100 == 0 {
			progress(20+70*i/len(t.Rows), fmt.Sprintf("extracted %d rows", i))
		}
	}
	progress(95, "encoding output")

	data, err := out.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".csv"}, nil
}

func convertFormat(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	target := strings.ToLower(StringArg(args, "target_format"))
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	progress(30, "table parsed")

	switch target {
	case "csv":
		data, err := t.Encode()
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Ext: ".csv"}, nil
	case "json":
		data, err := encodeRecords(t)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Ext: ".json"}, nil
	case "tsv":
		var buf bytes.Buffer
		buf.WriteString(strings.Join(t.Header, "\t"))
		buf.WriteByte('\n')
		for _, row := range t.Rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		return &Result{Data: buf.Bytes(), Ext: ".tsv"}, nil
	default:
		return nil, fmt.Errorf("unsupported target format %q", target)
	}
}

func normalizeData(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	trim := BoolArg(args, "trim_whitespace")
	lowerHeaders := BoolArg(args, "lowercase_headers")
	dropEmpty := BoolArg(args, "drop_empty_rows")

	if lowerHeaders {
		for i, h := range t.Header {
			t.Header[i] = strings.ToLower(strings.TrimSpace(h))
		}
	}
	progress(25, "headers normalized")

	out := t.Rows[:0]
	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		empty := true
		for i, v := range row {
			if trim {
				v = strings.TrimSpace(v)
				row[i] = v
			}
			if v != "" {
				empty = false
			}
		}
		if dropEmpty && empty {
			continue
		}
		out = append(out, row)
	}
	t.Rows = out
	progress(90, "rows normalized")

	data, err := t.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".csv"}, nil
}

func generateSQL(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	tableName := sanitizeIdent(StringArg(args, "table_name"))

	cols := make([]string, len(t.Header))
	for i, h := range t.Header {
		cols[i] = sanitizeIdent(h)
	}
	progress(20, "schema derived")

	var buf bytes.Buffer
	for i, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals := make([]string, len(cols))
		for j := range cols {
			vals[j] = "'" + strings.ReplaceAll(cell(row, j), "'", "''") + "'"
		}
		fmt.Fprintf(&buf, "INSERT INTO %s (%s) VALUES (%s);\n",
			tableName, strings.Join(cols, ", "), strings.Join(vals, ", "))
		if len(t.Rows) > 0 && i%100 == 0 {
			progress(20+70*i/len(t.Rows), fmt.Sprintf("generated %d statements", i))
		}
	}
	return &Result{Data: buf.Bytes(), Ext: ".sql"}, nil
}

func generateJSON(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	progress(40, "table parsed")
	data, err := encodeRecords(t)
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".json"}, nil
}

func searchFilter(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	idx, err := t.ColumnIndex(StringArg(args, "column"))
	if err != nil {
		return nil, err
	}
	value := StringArg(args, "value")
	exact := BoolArg(args, "exact")
	progress(20, "column resolved")

	out := &Table{Header: t.Header}
	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got := cell(row, idx)
		match := false
		if exact {
			match = got == value
		} else {
			match = strings.Contains(strings.ToLower(got), strings.ToLower(value))
		}
		if match {
			out.Rows = append(out.Rows, row)
		}
	}
	progress(90, fmt.Sprintf("%d rows matched", len(out.Rows)))

	data, err := out.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".csv"}, nil
}

// bindByKey groups rows sharing a key column value and joins the remaining
// cells with a separator, producing one row per key in first-seen order.
func bindByKey(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	idx, err := t.ColumnIndex(StringArg(args, "key_column"))
	if err != nil {
		return nil, err
	}
	sep := StringArg(args, "separator")

	order := []string{}
	grouped := map[string][]string{}
	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := cell(row, idx)
		merged, seen := grouped[key]
		if !seen {
			order = append(order, key)
			merged = make([]string, len(t.Header))
			copy(merged, row)
			grouped[key] = merged
			continue
		}
		for j := range t.Header {
			if j == idx {
				continue
			}
			if v := cell(row, j); v != "" && v != merged[j] {
				if merged[j] == "" {
					merged[j] = v
				} else {
					merged[j] += sep + v
				}
			}
		}
	}
	progress(80, fmt.Sprintf("%d keys bound", len(order)))

	out := &Table{Header: t.Header}
	for _, key := range order {
		out.Rows = append(out.Rows, grouped[key])
	}
	data, err := out.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".csv"}, nil
}

func renameColumns(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error) {
	t, err := ParseTable(in.Data)
	if err != nil {
		return nil, err
	}
	mapping := MapArg(args, "mapping")

	renamed := 0
	for old, updated := range mapping {
		idx, err := t.ColumnIndex(old)
		if err != nil {
			return nil, err
		}
		t.Header[idx] = updated
		renamed++
	}
	progress(80, fmt.Sprintf("%d columns renamed", renamed))

	data, err := t.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Ext: ".csv"}, nil
}

func encodeRecords(t *Table) ([]byte, error) {
	records := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			rec[h] = cell(row, i)
		}
		records = append(records, rec)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return data, nil
}

// sanitizeIdent reduces a header to a safe SQL identifier.
func sanitizeIdent(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "col"
	}
	return b.String()
}
