package intent

import (
	"fmt"
	"regexp"

	"github.com/tableflow/tableflow/pkg/models"
	"github.com/tableflow/tableflow/pkg/ops"
)

const unknownResponse = "I didn't understand that. I can extract columns, convert formats, " +
	"normalize data, generate SQL or JSON, filter rows, merge rows, and rename columns. " +
	"Type 'help' for details."

// reColumns captures a comma-separated column list after "column:"/"columns".
var reColumns = regexp.MustCompile(`(?i)columns?:?\s*([\w ,]+?)(?:\s+(?:from|in|of)\b|[.?!]|$)`)

func builtinRules() []rule {
	return []rule{
		{
			intent: ops.IntentExtractColumns,
			patterns: []pattern{
				{regexp.MustCompile(`\bextract\b`), 0.4},
				{regexp.MustCompile(`\b(pull|take|select|get)\b.*\bcolumns?\b`), 0.3},
				{regexp.MustCompile(`\bcolumns?\b`), 0.2},
				{regexp.MustCompile(`\b(unique|duplicates?|dedupe)\b`), 0.1},
			},
			extractors: []extractor{
				{param: "columns", re: reColumns, list: true},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				args := map[string]any{}
				if cols, ok := params["columns"]; ok {
					args["columns"] = cols
				}
				return []models.ProposedStep{{Operation: "excel/extract-columns-to-file", Arguments: args}}
			},
			response: func(params map[string]any) string {
				if cols := joinList(params, "columns"); cols != "" {
					return fmt.Sprintf("I'll extract the columns %s into a new file. Proceed?", cols)
				}
				return "I'll extract the requested columns into a new file. Which columns? Proceed?"
			},
		},
		{
			intent: ops.IntentConvertFormat,
			patterns: []pattern{
				{regexp.MustCompile(`\bconvert\b`), 0.4},
				{regexp.MustCompile(`\b(to|into|as)\s+(csv|json|tsv)\b`), 0.3},
				{regexp.MustCompile(`\bformat\b`), 0.2},
			},
			extractors: []extractor{
				{param: "target_format", re: regexp.MustCompile(`(?i)\b(?:to|into|as)\s+(csv|json|tsv)\b`)},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				return []models.ProposedStep{{
					Operation: "excel/convert-format-to-file",
					Arguments: map[string]any{"target_format": stringParam(params, "target_format", "json")},
				}}
			},
			response: func(params map[string]any) string {
				return fmt.Sprintf("I'll convert your file to %s. Proceed?",
					stringParam(params, "target_format", "json"))
			},
		},
		{
			intent: ops.IntentNormalizeData,
			patterns: []pattern{
				{regexp.MustCompile(`\bnormali[sz]e\b`), 0.5},
				{regexp.MustCompile(`\bclean(\s*up)?\b`), 0.3},
				{regexp.MustCompile(`\b(whitespace|trim|tidy|messy)\b`), 0.2},
			},
			requiresFile: true,
			buildSteps: func(map[string]any) []models.ProposedStep {
				return []models.ProposedStep{{Operation: "normalization/apply", Arguments: map[string]any{}}}
			},
			response: func(map[string]any) string {
				return "I'll normalize the data: trim whitespace, lowercase headers, and drop empty rows. Proceed?"
			},
		},
		{
			intent: ops.IntentGenerateSQL,
			patterns: []pattern{
				{regexp.MustCompile(`\bsql\b`), 0.4},
				{regexp.MustCompile(`\binserts?\b`), 0.3},
				{regexp.MustCompile(`\b(generate|create|build)\b`), 0.2},
			},
			extractors: []extractor{
				{param: "table_name", re: regexp.MustCompile(`(?i)\btable\s+([\w]+)`)},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				args := map[string]any{}
				if t, ok := params["table_name"]; ok {
					args["table_name"] = t
				}
				return []models.ProposedStep{{Operation: "sql/generate-to-text", Arguments: args}}
			},
			response: func(params map[string]any) string {
				return fmt.Sprintf("I'll generate SQL INSERT statements into table %q. Proceed?",
					stringParam(params, "table_name", "data"))
			},
		},
		{
			intent: ops.IntentGenerateJSON,
			patterns: []pattern{
				{regexp.MustCompile(`\bjson\b`), 0.4},
				{regexp.MustCompile(`\b(records?|objects?)\b`), 0.2},
				{regexp.MustCompile(`\b(generate|create|export)\b`), 0.2},
			},
			requiresFile: true,
			buildSteps: func(map[string]any) []models.ProposedStep {
				return []models.ProposedStep{{Operation: "json/generate-to-file", Arguments: map[string]any{}}}
			},
			response: func(map[string]any) string {
				return "I'll export the table as JSON records. Proceed?"
			},
		},
		{
			intent: ops.IntentSearchFilter,
			patterns: []pattern{
				{regexp.MustCompile(`\b(filter|search|find)\b`), 0.4},
				{regexp.MustCompile(`\b(rows?|where|matching|contains?)\b`), 0.2},
			},
			extractors: []extractor{
				{param: "column", re: regexp.MustCompile(`(?i)\bwhere\s+([\w]+)\b`)},
				{param: "value", re: regexp.MustCompile(`(?i)(?:=|is|equals|contains)\s+"?([\w@. -]+?)"?(?:[.?!]|$)`)},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				args := map[string]any{}
				if c, ok := params["column"]; ok {
					args["column"] = c
				}
				if v, ok := params["value"]; ok {
					args["value"] = v
				}
				return []models.ProposedStep{{Operation: "search/filter-to-file", Arguments: args}}
			},
			response: func(params map[string]any) string {
				c := stringParam(params, "column", "?")
				v := stringParam(params, "value", "?")
				return fmt.Sprintf("I'll keep rows where %s matches %q. Proceed?", c, v)
			},
		},
		{
			intent: ops.IntentBindData,
			patterns: []pattern{
				{regexp.MustCompile(`\b(bind|merge|combine|group)\b`), 0.4},
				{regexp.MustCompile(`\b(by|key|together)\b`), 0.2},
			},
			extractors: []extractor{
				{param: "key_column", re: regexp.MustCompile(`(?i)\bby\s+([\w]+)`)},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				args := map[string]any{}
				if k, ok := params["key_column"]; ok {
					args["key_column"] = k
				}
				return []models.ProposedStep{{Operation: "binding/merge-by-key", Arguments: args}}
			},
			response: func(params map[string]any) string {
				return fmt.Sprintf("I'll merge rows sharing the same %s value. Proceed?",
					stringParam(params, "key_column", "key"))
			},
		},
		{
			intent: ops.IntentMapColumns,
			patterns: []pattern{
				{regexp.MustCompile(`\b(rename|remap|map)\b`), 0.4},
				{regexp.MustCompile(`\bcolumns?\b`), 0.2},
				{regexp.MustCompile(`\bheaders?\b`), 0.2},
			},
			extractors: []extractor{
				{param: "from", re: regexp.MustCompile(`(?i)\brename\s+([\w]+)\s+to\b`)},
				{param: "to", re: regexp.MustCompile(`(?i)\bto\s+([\w]+)`)},
			},
			requiresFile: true,
			buildSteps: func(params map[string]any) []models.ProposedStep {
				args := map[string]any{}
				from, okFrom := params["from"].(string)
				to, okTo := params["to"].(string)
				if okFrom && okTo {
					args["mapping"] = map[string]string{from: to}
				}
				return []models.ProposedStep{{Operation: "mapping/rename-columns", Arguments: args}}
			},
			response: func(params map[string]any) string {
				from, okFrom := params["from"].(string)
				to, okTo := params["to"].(string)
				if okFrom && okTo {
					return fmt.Sprintf("I'll rename column %q to %q. Proceed?", from, to)
				}
				return "I'll rename the columns you specify. Which mapping? Proceed?"
			},
		},
	}
}
