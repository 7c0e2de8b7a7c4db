package ops

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run resolves a builtin operation, coerces raw args, and invokes the handler
// on an in-memory CSV table.
func run(t *testing.T, opID, csvData string, raw map[string]any) (*Result, error) {
	t.Helper()
	r := NewRegistry(Builtin()...)
	op, err := r.Get(opID)
	require.NoError(t, err)
	args, err := CoerceArgs(op, raw)
	require.NoError(t, err)
	return op.Handler(context.Background(), Input{Data: []byte(csvData)}, args, func(int, string) {})
}

const sampleCSV = "Name,Email,Dept\nalice,alice@x.io,eng\nbob,bob@x.io,sales\nalice,alice@x.io,eng\n"

func TestExtractColumns(t *testing.T) {
	res, err := run(t, "excel/extract-columns-to-file", sampleCSV,
		map[string]any{"columns": "name, dept"})
	require.NoError(t, err)
	assert.Equal(t, ".csv", res.Ext)
	assert.Equal(t, "Name,Dept\nalice,eng\nbob,sales\nalice,eng\n", string(res.Data))
}

func TestExtractColumnsRemoveDuplicates(t *testing.T) {
	res, err := run(t, "excel/extract-columns-to-file", sampleCSV,
		map[string]any{"columns": []string{"name"}, "remove_duplicates": true})
	require.NoError(t, err)
	assert.Equal(t, "Name\nalice\nbob\n", string(res.Data))
}

func TestExtractColumnsUnknownColumn(t *testing.T) {
	_, err := run(t, "excel/extract-columns-to-file", sampleCSV,
		map[string]any{"columns": []string{"salary"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "salary" not found`)
}

func TestConvertFormat(t *testing.T) {
	t.Run("tsv", func(t *testing.T) {
		res, err := run(t, "excel/convert-format-to-file", "a,b\n1,2\n",
			map[string]any{"target_format": "tsv"})
		require.NoError(t, err)
		assert.Equal(t, ".tsv", res.Ext)
		assert.Equal(t, "a\tb\n1\t2\n", string(res.Data))
	})

	t.Run("json", func(t *testing.T) {
		res, err := run(t, "excel/convert-format-to-file", "a,b\n1,2\n",
			map[string]any{"target_format": "JSON"})
		require.NoError(t, err)
		assert.Equal(t, ".json", res.Ext)

		var records []map[string]string
		require.NoError(t, json.Unmarshal(res.Data, &records))
		assert.Equal(t, []map[string]string{{"a": "1", "b": "2"}}, records)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := run(t, "excel/convert-format-to-file", "a\n1\n",
			map[string]any{"target_format": "parquet"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported target format")
	})
}

func TestNormalizeData(t *testing.T) {
	in := " Name , City \n alice , berlin \n , \nbob,oslo\n"
	res, err := run(t, "normalization/apply", in, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "name,city\nalice,berlin\nbob,oslo\n", string(res.Data))
}

func TestNormalizeDataKeepEmptyRows(t *testing.T) {
	in := "a,b\n,\n1,2\n"
	res, err := run(t, "normalization/apply", in, map[string]any{"drop_empty_rows": false})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n,\n1,2\n", string(res.Data))
}

func TestGenerateSQL(t *testing.T) {
	res, err := run(t, "sql/generate-to-text", "Full Name,Age\nO'Brien,41\n",
		map[string]any{"table_name": "people"})
	require.NoError(t, err)
	assert.Equal(t, ".sql", res.Ext)
	assert.Equal(t, "INSERT INTO people (full_name, age) VALUES ('O''Brien', '41');\n", string(res.Data))
}

func TestGenerateSQLDefaultTableName(t *testing.T) {
	res, err := run(t, "sql/generate-to-text", "a\n1\n", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, string(res.Data), "INSERT INTO data (a)")
}

func TestGenerateJSON(t *testing.T) {
	res, err := run(t, "json/generate-to-file", "id,name\n1,alice\n2,bob\n", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ".json", res.Ext)

	var records []map[string]string
	require.NoError(t, json.Unmarshal(res.Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0]["name"])
}

func TestSearchFilter(t *testing.T) {
	t.Run("substring case-insensitive", func(t *testing.T) {
		res, err := run(t, "search/filter-to-file", sampleCSV,
			map[string]any{"column": "email", "value": "ALICE"})
		require.NoError(t, err)
		assert.Equal(t, "Name,Email,Dept\nalice,alice@x.io,eng\nalice,alice@x.io,eng\n", string(res.Data))
	})

	t.Run("exact", func(t *testing.T) {
		res, err := run(t, "search/filter-to-file", sampleCSV,
			map[string]any{"column": "name", "value": "ALICE", "exact": true})
		require.NoError(t, err)
		assert.Equal(t, "Name,Email,Dept\n", string(res.Data))
	})
}

func TestBindByKey(t *testing.T) {
	in := "id,phone\n1,111\n2,333\n1,222\n"
	res, err := run(t, "binding/merge-by-key", in, map[string]any{"key_column": "id"})
	require.NoError(t, err)
	assert.Equal(t, "id,phone\n1,111;222\n2,333\n", string(res.Data))
}

func TestRenameColumns(t *testing.T) {
	res, err := run(t, "mapping/rename-columns", "old_id,name\n1,alice\n",
		map[string]any{"mapping": map[string]any{"old_id": "id"}})
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,alice\n", string(res.Data))
}

func TestHandlerHonorsCancelledContext(t *testing.T) {
	r := NewRegistry(Builtin()...)
	op, err := r.Get("excel/extract-columns-to-file")
	require.NoError(t, err)
	args, err := CoerceArgs(op, map[string]any{"columns": []string{"name"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = op.Handler(ctx, Input{Data: []byte(sampleCSV)}, args, func(int, string) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseTableEmpty(t *testing.T) {
	_, err := ParseTable(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestColumnIndexCaseInsensitive(t *testing.T) {
	tbl := &Table{Header: []string{" Name ", "Email"}}
	idx, err := tbl.ColumnIndex("name")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
